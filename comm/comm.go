// Package comm is a small message-passing runtime for chain participants.
//
// An Endpoint identifies one participant by rank among size participants, and moves single
// complex amplitudes between them on tagged point-to-point streams. Messages on a stream
// between two ranks with the same tag are delivered in order. Sends are buffered and do not
// wait for the matching receive.
//
// Two transports back an Endpoint: an in-memory world whose participants are goroutines, see
// NewWorld, and a TCP mesh whose participants are processes, see DialTCP.
package comm

import (
	"context"

	"github.com/pkg/errors"
)

// ProcNull is the rank of an absent peer. Sending to it and receiving from it complete at once
// without moving any data.
const ProcNull = -1

// Tag distinguishes the message streams between two ranks.
type Tag int

const (
	// TagLeftward carries values toward lower ranks.
	TagLeftward Tag = 0
	// TagRightward carries values toward higher ranks.
	TagRightward Tag = 1

	tagBarrier Tag = 2
	numTags        = 3

	// tagHello opens a TCP connection, it never reaches an inbox.
	tagHello Tag = -1

	// inboxSize is the number of undelivered messages buffered per stream.
	inboxSize = 16
)

var (
	// ErrClosed is returned by operations on a closed endpoint.
	ErrClosed = errors.New("endpoint closed")
)

type transport interface {
	send(ctx context.Context, dest int, tag Tag, v complex128) error
	recv(ctx context.Context, src int, tag Tag) (complex128, error)
	close() error
}

// Endpoint is one participant's view of the runtime.
type Endpoint struct {
	rank int
	size int
	t    transport
}

func (e *Endpoint) Rank() int { return e.rank }
func (e *Endpoint) Size() int { return e.size }

// Send delivers v to dest on the tag stream.
func (e *Endpoint) Send(ctx context.Context, dest int, tag Tag, v complex128) error {
	if dest == ProcNull {
		return nil
	}
	if err := e.checkPeer(dest, tag); err != nil {
		return errors.Wrap(err, "")
	}
	if err := e.t.send(ctx, dest, tag, v); err != nil {
		return errors.Wrapf(err, "send %d->%d tag %d", e.rank, dest, tag)
	}
	return nil
}

// Recv blocks until a value from src on the tag stream arrives.
// The boolean is false when src is ProcNull, in which case nothing was received.
func (e *Endpoint) Recv(ctx context.Context, src int, tag Tag) (complex128, bool, error) {
	if src == ProcNull {
		return 0, false, nil
	}
	if err := e.checkPeer(src, tag); err != nil {
		return 0, false, errors.Wrap(err, "")
	}
	v, err := e.t.recv(ctx, src, tag)
	if err != nil {
		return 0, false, errors.Wrapf(err, "recv %d<-%d tag %d", e.rank, src, tag)
	}
	return v, true, nil
}

// Sendrecv sends v to dest and receives from src, both on the tag stream.
func (e *Endpoint) Sendrecv(ctx context.Context, v complex128, dest, src int, tag Tag) (complex128, bool, error) {
	if err := e.Send(ctx, dest, tag, v); err != nil {
		return 0, false, errors.Wrap(err, "")
	}
	r, ok, err := e.Recv(ctx, src, tag)
	if err != nil {
		return 0, false, errors.Wrap(err, "")
	}
	return r, ok, nil
}

// Barrier blocks until every rank has entered it.
func (e *Endpoint) Barrier(ctx context.Context) error {
	if e.size == 1 {
		return nil
	}

	if e.rank != 0 {
		if err := e.t.send(ctx, 0, tagBarrier, 0); err != nil {
			return errors.Wrap(err, "")
		}
		if _, err := e.t.recv(ctx, 0, tagBarrier); err != nil {
			return errors.Wrap(err, "")
		}
		return nil
	}

	for src := 1; src < e.size; src++ {
		if _, err := e.t.recv(ctx, src, tagBarrier); err != nil {
			return errors.Wrap(err, "")
		}
	}
	for dest := 1; dest < e.size; dest++ {
		if err := e.t.send(ctx, dest, tagBarrier, 0); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// Close releases the transport. Blocked operations return ErrClosed.
func (e *Endpoint) Close() error {
	if err := e.t.close(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func (e *Endpoint) checkPeer(peer int, tag Tag) error {
	if peer < 0 || peer >= e.size || peer == e.rank {
		return errors.Errorf("rank %d: invalid peer %d of %d", e.rank, peer, e.size)
	}
	if tag < 0 || tag >= numTags || tag == tagBarrier {
		return errors.Errorf("rank %d: invalid tag %d", e.rank, tag)
	}
	return nil
}
