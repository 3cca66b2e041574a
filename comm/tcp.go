package comm

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
)

const (
	dialRetryInterval = 50 * time.Millisecond
	helloTimeout      = 10 * time.Second
)

// frame is the unit written on a TCP connection.
type frame struct {
	Src int     `msgpack:"s"`
	Tag Tag     `msgpack:"t"`
	Re  float64 `msgpack:"r"`
	Im  float64 `msgpack:"i"`
}

type peer struct {
	conn net.Conn

	mu  sync.Mutex
	w   *bufio.Writer
	enc *msgpack.Encoder
	dec *msgpack.Decoder

	inbox [numTags]chan complex128
	// dead is closed after err is set, when the connection can no longer be read.
	dead chan struct{}
	err  error
}

func newPeer(conn net.Conn, dec *msgpack.Decoder) *peer {
	w := bufio.NewWriter(conn)
	p := &peer{conn: conn, w: w, enc: msgpack.NewEncoder(w), dec: dec, dead: make(chan struct{})}
	if p.dec == nil {
		p.dec = msgpack.NewDecoder(bufio.NewReader(conn))
	}
	for tag := range numTags {
		p.inbox[tag] = make(chan complex128, inboxSize)
	}
	return p
}

func (p *peer) write(f frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(f); err != nil {
		return errors.Wrap(err, "")
	}
	if err := p.w.Flush(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

type tcpTransport struct {
	rank  int
	peers []*peer

	wg   sync.WaitGroup
	once sync.Once
	done chan struct{}
}

// DialTCP listens on addrs[rank] and connects to every other rank of addrs.
// It returns once the full mesh is established.
func DialTCP(ctx context.Context, rank int, addrs []string) (*Endpoint, error) {
	if rank < 0 || rank >= len(addrs) {
		return nil, errors.Errorf("rank %d of %d", rank, len(addrs))
	}
	ln, err := net.Listen("tcp", addrs[rank])
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	ep, err := NewTCP(ctx, ln, rank, addrs)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return ep, nil
}

// NewTCP builds the mesh of rank using a listener already bound to addrs[rank].
// Lower ranks are dialed, higher ranks are accepted. The listener is closed on return.
func NewTCP(ctx context.Context, ln net.Listener, rank int, addrs []string) (*Endpoint, error) {
	size := len(addrs)
	if rank < 0 || rank >= size {
		ln.Close()
		return nil, errors.Errorf("rank %d of %d", rank, size)
	}
	t := &tcpTransport{rank: rank, peers: make([]*peer, size), done: make(chan struct{})}

	var mu sync.Mutex
	register := func(src int, p *peer) error {
		mu.Lock()
		defer mu.Unlock()
		if src < 0 || src >= size || src == rank || t.peers[src] != nil {
			return errors.Errorf("unexpected peer %d", src)
		}
		t.peers[src] = p
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for range size - 1 - rank {
			conn, err := ln.Accept()
			if err != nil {
				return errors.Wrap(err, "")
			}
			src, dec, err := readHello(conn)
			if err != nil {
				conn.Close()
				return errors.Wrap(err, "")
			}
			if src <= rank {
				conn.Close()
				return errors.Errorf("hello from lower rank %d", src)
			}
			if err := register(src, newPeer(conn, dec)); err != nil {
				conn.Close()
				return errors.Wrap(err, "")
			}
		}
		return nil
	})
	for dest := range rank {
		g.Go(func() error {
			conn, err := dialRetry(gctx, addrs[dest])
			if err != nil {
				return errors.Wrap(err, addrs[dest])
			}
			p := newPeer(conn, nil)
			if err := p.write(frame{Src: rank, Tag: tagHello}); err != nil {
				conn.Close()
				return errors.Wrap(err, "")
			}
			if err := register(dest, p); err != nil {
				conn.Close()
				return errors.Wrap(err, "")
			}
			return nil
		})
	}

	// gctx is cancelled on the first error and when Wait returns, which unblocks Accept.
	lnClosed := make(chan struct{})
	go func() {
		defer close(lnClosed)
		<-gctx.Done()
		ln.Close()
	}()
	err := g.Wait()
	<-lnClosed
	if err != nil {
		for _, p := range t.peers {
			if p != nil {
				p.conn.Close()
			}
		}
		return nil, errors.Wrap(err, "")
	}

	for src, p := range t.peers {
		if p == nil {
			continue
		}
		t.wg.Add(1)
		go t.read(src, p)
	}
	return &Endpoint{rank: rank, size: size, t: t}, nil
}

func readHello(conn net.Conn) (int, *msgpack.Decoder, error) {
	if err := conn.SetReadDeadline(time.Now().Add(helloTimeout)); err != nil {
		return -1, nil, errors.Wrap(err, "")
	}
	dec := msgpack.NewDecoder(bufio.NewReader(conn))
	var f frame
	if err := dec.Decode(&f); err != nil {
		return -1, nil, errors.Wrap(err, "")
	}
	if f.Tag != tagHello {
		return -1, nil, errors.Errorf("%#v", f)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return -1, nil, errors.Wrap(err, "")
	}
	return f.Src, dec, nil
}

func dialRetry(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(err, "")
		case <-time.After(dialRetryInterval):
		}
	}
}

func (t *tcpTransport) read(src int, p *peer) {
	defer t.wg.Done()
	defer close(p.dead)
	for {
		var f frame
		if err := p.dec.Decode(&f); err != nil {
			p.err = errors.Wrapf(err, "peer %d", src)
			return
		}
		if f.Tag < 0 || f.Tag >= numTags || f.Src != src {
			p.err = errors.Errorf("peer %d: unexpected frame %#v", src, f)
			return
		}
		select {
		case p.inbox[f.Tag] <- complex(f.Re, f.Im):
		case <-t.done:
			return
		}
	}
}

func (t *tcpTransport) send(ctx context.Context, dest int, tag Tag, v complex128) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	p := t.peers[dest]
	if dl, ok := ctx.Deadline(); ok {
		if err := p.conn.SetWriteDeadline(dl); err != nil {
			return errors.Wrap(err, "")
		}
	}
	if err := p.write(frame{Src: t.rank, Tag: tag, Re: real(v), Im: imag(v)}); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func (t *tcpTransport) recv(ctx context.Context, src int, tag Tag) (complex128, error) {
	p := t.peers[src]
	select {
	case v := <-p.inbox[tag]:
		return v, nil
	case <-p.dead:
		// Values read before the connection failed are still delivered.
		select {
		case v := <-p.inbox[tag]:
			return v, nil
		default:
		}
		select {
		case <-t.done:
			return 0, ErrClosed
		default:
		}
		return 0, p.err
	case <-t.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, errors.Wrap(ctx.Err(), "")
	}
}

func (t *tcpTransport) close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		for _, p := range t.peers {
			if p == nil {
				continue
			}
			if err1 := p.conn.Close(); err1 != nil && err == nil {
				err = errors.Wrap(err1, "")
			}
		}
		t.wg.Wait()
	})
	return err
}
