// Package engine evolves one participant's segment of a domain decomposed chain.
//
// Every step a participant exchanges boundary amplitudes with its neighbors and sweeps the
// pair rotation over its segment. With SchemeExact, concatenating the final segments in rank
// order gives exactly the chain produced by qchain.Evolve.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/fumin/qchain"
	"github.com/fumin/qchain/comm"
	"github.com/fumin/qchain/partition"
	"github.com/fumin/qchain/util"
)

// Scheme selects the boundary exchange protocol.
type Scheme int

const (
	// SchemeExact hands the pair straddling two segments across the boundary, so that it is
	// rotated in the same order as in a single sweep over the whole chain.
	SchemeExact Scheme = iota
	// SchemeHalo overwrites the two boundary slots with the neighbors' edge amplitudes before
	// sweeping. Pairs straddling two segments are never rotated, so only a single participant
	// reproduces qchain.Evolve.
	SchemeHalo
)

func (s Scheme) String() string {
	switch s {
	case SchemeExact:
		return "exact"
	case SchemeHalo:
		return "halo"
	default:
		return fmt.Sprintf("Scheme(%d)", int(s))
	}
}

func ParseScheme(s string) (Scheme, error) {
	switch s {
	case "exact":
		return SchemeExact, nil
	case "halo":
		return SchemeHalo, nil
	default:
		return 0, errors.Errorf("unknown scheme %q", s)
	}
}

// Comm is the message-passing runtime seen by an engine, usually a *comm.Endpoint.
type Comm interface {
	Rank() int
	Size() int
	Send(ctx context.Context, dest int, tag comm.Tag, v complex128) error
	Recv(ctx context.Context, src int, tag comm.Tag) (complex128, bool, error)
	Sendrecv(ctx context.Context, v complex128, dest, src int, tag comm.Tag) (complex128, bool, error)
	Barrier(ctx context.Context) error
}

// Options are options of an Engine.
type Options struct {
	scheme   Scheme
	log      zerolog.Logger
	progress time.Duration
}

// NewOptions returns the default options.
func NewOptions() Options {
	opt := Options{}
	opt.scheme = SchemeExact
	opt.log = zerolog.Nop()
	opt.progress = 5 * time.Second
	return opt
}

// Scheme sets the exchange protocol.
func (opt Options) Scheme(s Scheme) Options {
	opt.scheme = s
	return opt
}

// Logger sets the logger.
func (opt Options) Logger(l zerolog.Logger) Options {
	opt.log = l
	return opt
}

// Progress sets the minimum interval between progress logs.
func (opt Options) Progress(d time.Duration) Options {
	opt.progress = d
	return opt
}

// Engine owns one participant's segment.
type Engine struct {
	c      Comm
	params qchain.Params
	rot    qchain.Rotation
	scheme Scheme

	plan  partition.Plan
	left  partition.Neighbor
	right partition.Neighbor
	psi   []complex128

	log      zerolog.Logger
	throttle *util.SkipThrottler
}

// New allocates the segment of c.Rank() in a chain of n amplitudes, all set to 1.
// Every participant rejects n < c.Size() the same way, see partition.ErrDegenerate.
func New(c Comm, params qchain.Params, n int, options ...Options) (*Engine, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}

	plan, err := partition.New(n, c.Size())
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	rank := c.Rank()
	left, right := plan.Neighbors(rank)
	e := &Engine{
		c:        c,
		params:   params,
		rot:      params.Rotation(),
		scheme:   opt.scheme,
		plan:     plan,
		left:     left,
		right:    right,
		psi:      qchain.NewChain(plan.LocalLength(rank)),
		log:      opt.log,
		throttle: util.NewSkipThrottler(opt.progress),
	}
	return e, nil
}

// Segment returns the amplitudes owned by this participant.
func (e *Engine) Segment() []complex128 { return e.psi }

// Offset returns the global index of the first owned amplitude.
func (e *Engine) Offset() int { return e.plan.Offset(e.c.Rank()) }

// Run waits for every participant, then performs params.Steps steps.
// The returned duration covers the step loop only.
func (e *Engine) Run(ctx context.Context) (time.Duration, error) {
	e.log.Debug().Int("n", e.plan.N).Int("local", len(e.psi)).Int("offset", e.Offset()).
		Float64("psi_mb", qchain.SizeMB(len(e.psi))).Stringer("scheme", e.scheme).Msg("segment")

	if err := e.c.Barrier(ctx); err != nil {
		return 0, errors.Wrap(err, "")
	}
	start := time.Now()
	for s := range e.params.Steps {
		if err := e.Step(ctx); err != nil {
			return 0, errors.Wrapf(err, "step %d", s)
		}
		if e.log.GetLevel() <= zerolog.DebugLevel && e.throttle.Ok() {
			e.log.Debug().Int("step", s).Int("steps", e.params.Steps).Msg("progress")
		}
	}
	return time.Since(start), nil
}

// Step exchanges boundary amplitudes and sweeps the segment once.
func (e *Engine) Step(ctx context.Context) error {
	switch e.scheme {
	case SchemeHalo:
		if err := e.exchangeHalo(ctx); err != nil {
			return errors.Wrap(err, "")
		}
		qchain.Sweep(e.psi, e.rot)
		return nil
	case SchemeExact:
		return e.stepExact(ctx)
	default:
		return errors.Errorf("unknown scheme %v", e.scheme)
	}
}

// stepExact rotates the left straddling pair, sweeps, then has the right neighbor rotate the
// right straddling pair. Rank r only ever waits on r-1 before its sweep and on r+1 after it,
// and r+1 never waits on r after its own sweep, so the waits cannot form a cycle.
func (e *Engine) stepExact(ctx context.Context) error {
	if e.left.Exists() {
		x, _, err := e.c.Recv(ctx, peer(e.left), comm.TagRightward)
		if err != nil {
			return errors.Wrap(err, "")
		}
		x, e.psi[0] = e.rot.Apply(x, e.psi[0])
		if err := e.c.Send(ctx, peer(e.left), comm.TagLeftward, x); err != nil {
			return errors.Wrap(err, "")
		}
	}

	qchain.Sweep(e.psi, e.rot)

	if e.right.Exists() {
		last := len(e.psi) - 1
		if err := e.c.Send(ctx, peer(e.right), comm.TagRightward, e.psi[last]); err != nil {
			return errors.Wrap(err, "")
		}
		v, _, err := e.c.Recv(ctx, peer(e.right), comm.TagLeftward)
		if err != nil {
			return errors.Wrap(err, "")
		}
		e.psi[last] = v
	}
	return nil
}

// exchangeHalo sends the first amplitude left and the last amplitude right, then patches the
// boundary slots of present neighbors.
func (e *Engine) exchangeHalo(ctx context.Context) error {
	last := len(e.psi) - 1
	fromRight, rightOK, err := e.c.Sendrecv(ctx, e.psi[0], peer(e.left), peer(e.right), comm.TagLeftward)
	if err != nil {
		return errors.Wrap(err, "")
	}
	fromLeft, leftOK, err := e.c.Sendrecv(ctx, e.psi[last], peer(e.right), peer(e.left), comm.TagRightward)
	if err != nil {
		return errors.Wrap(err, "")
	}

	if leftOK {
		e.psi[0] = fromLeft
	}
	if rightOK {
		e.psi[last] = fromRight
	}
	return nil
}

func peer(nb partition.Neighbor) int {
	if !nb.Exists() {
		return comm.ProcNull
	}
	return int(nb)
}
