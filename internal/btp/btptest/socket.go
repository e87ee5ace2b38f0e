// Package btptest provides in-memory BTP sockets for tests.
package btptest

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/chaz8081/btp-android/internal/btp"
)

// Socket is an in-memory btp.Socket. Frames pushed with Push are returned
// by ReadFrame in order.
type Socket struct {
	in     chan btp.Frame
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []btp.Frame
	closes  int
}

// Compile-time check that Socket implements btp.Socket.
var _ btp.Socket = (*Socket)(nil)

// NewSocket returns an open Socket.
func NewSocket() *Socket {
	return &Socket{
		in:     make(chan btp.Frame, 64),
		closed: make(chan struct{}),
	}
}

// Push queues a frame as if the IUT had sent it.
func (s *Socket) Push(f btp.Frame) {
	s.in <- f
}

// ReadFrame implements btp.Socket.
func (s *Socket) ReadFrame() (btp.Frame, error) {
	select {
	case f := <-s.in:
		return f, nil
	case <-s.closed:
		return btp.Frame{}, net.ErrClosed
	}
}

// WriteFrame implements btp.Socket.
func (s *Socket) WriteFrame(f btp.Frame) error {
	select {
	case <-s.closed:
		return net.ErrClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, f)
	return nil
}

// Close implements btp.Socket.
func (s *Socket) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Closes returns how many times Close was called.
func (s *Socket) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Written returns the frames written so far.
func (s *Socket) Written() []btp.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]btp.Frame(nil), s.written...)
}

// Dialer hands out a fresh Socket per dial and remembers them.
type Dialer struct {
	// OnDial, if set, runs on every new socket before it is returned.
	OnDial func(s *Socket)
	// Err, if set, fails every dial.
	Err error

	mu      sync.Mutex
	sockets []*Socket
	addrs   []string
}

// Dial is a btp.DialFunc.
func (d *Dialer) Dial(ctx context.Context, host string, port int) (btp.Socket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Err != nil {
		return nil, d.Err
	}
	s := NewSocket()
	if d.OnDial != nil {
		d.OnDial(s)
	}
	d.mu.Lock()
	d.sockets = append(d.sockets, s)
	d.addrs = append(d.addrs, net.JoinHostPort(host, strconv.Itoa(port)))
	d.mu.Unlock()
	return s, nil
}

// Sockets returns every socket dialed so far.
func (d *Dialer) Sockets() []*Socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Socket(nil), d.sockets...)
}

// Addrs returns the host:port of every dial.
func (d *Dialer) Addrs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addrs...)
}
