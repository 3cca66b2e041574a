package comm

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

type world struct {
	// boxes[src][dest][tag]
	boxes [][][numTags]chan complex128
}

// NewWorld returns size endpoints connected in memory, indexed by rank.
// Each endpoint is meant to be driven by its own goroutine.
func NewWorld(size int) []*Endpoint {
	w := &world{boxes: make([][][numTags]chan complex128, size)}
	for src := range size {
		w.boxes[src] = make([][numTags]chan complex128, size)
		for dest := range size {
			for tag := range numTags {
				w.boxes[src][dest][tag] = make(chan complex128, inboxSize)
			}
		}
	}

	eps := make([]*Endpoint, 0, size)
	for rank := range size {
		t := &localTransport{w: w, rank: rank, done: make(chan struct{})}
		eps = append(eps, &Endpoint{rank: rank, size: size, t: t})
	}
	return eps
}

type localTransport struct {
	w    *world
	rank int

	once sync.Once
	done chan struct{}
}

func (t *localTransport) send(ctx context.Context, dest int, tag Tag, v complex128) error {
	select {
	case t.w.boxes[t.rank][dest][tag] <- v:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "")
	}
}

func (t *localTransport) recv(ctx context.Context, src int, tag Tag) (complex128, error) {
	select {
	case v := <-t.w.boxes[src][t.rank][tag]:
		return v, nil
	case <-t.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, errors.Wrap(ctx.Err(), "")
	}
}

func (t *localTransport) close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}
