package btp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Read and Send once the worker is closed.
var ErrClosed = errors.New("btp: worker closed")

// EventHandler receives events from the worker's receive loop. It returns
// true if it consumed the event; unconsumed events are queued for Read.
type EventHandler interface {
	HandleEvent(ctx context.Context, f Frame) bool
}

// Worker owns a Socket and runs its receive loop. Frames that no handler
// consumes are handed to Read one at a time.
type Worker struct {
	name string
	sock Socket

	ctx    context.Context // cancelled by Close, passed to handlers
	cancel context.CancelFunc

	mu       sync.Mutex
	handler  EventHandler
	accepted bool

	rx     chan Frame
	closed chan struct{}
	rxDone chan struct{}
	rxErr  error // set before rxDone is closed

	closeOnce sync.Once
	closeErr  error
}

// NewWorker wraps sock. Call Accept to start receiving.
func NewWorker(sock Socket, name string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		name:   name,
		sock:   sock,
		ctx:    ctx,
		cancel: cancel,
		rx:     make(chan Frame, 32),
		closed: make(chan struct{}),
		rxDone: make(chan struct{}),
	}
}

// Name returns the worker name used in logs.
func (w *Worker) Name() string {
	return w.name
}

// RegisterEventHandler sets the handler that events are offered to first.
func (w *Worker) RegisterEventHandler(h EventHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = h
}

// Accept starts the receive loop. Calling it again has no effect.
func (w *Worker) Accept() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.accepted {
		return
	}
	w.accepted = true
	go w.receive()
}

func (w *Worker) receive() {
	defer close(w.rxDone)
	for {
		f, err := w.sock.ReadFrame()
		if err != nil {
			select {
			case <-w.closed:
				w.rxErr = ErrClosed
			default:
				slog.Warn("[BTP] receive loop stopped", "worker", w.name, "error", err)
				w.rxErr = err
			}
			return
		}
		slog.Debug("[BTP] rx", "worker", w.name, "header", f.Header.String())

		if f.IsEvent() {
			w.mu.Lock()
			h := w.handler
			w.mu.Unlock()
			if h != nil && h.HandleEvent(w.ctx, f) {
				continue
			}
		}

		select {
		case w.rx <- f:
		case <-w.closed:
			w.rxErr = ErrClosed
			return
		}
	}
}

// Read blocks until the next unconsumed frame arrives, the worker is
// closed, the receive loop fails or ctx is done. After a receive failure
// queued frames are returned before the error.
func (w *Worker) Read(ctx context.Context) (Frame, error) {
	select {
	case f := <-w.rx:
		return f, nil
	case <-w.closed:
		return Frame{}, ErrClosed
	case <-w.rxDone:
		// Frames queued before the loop stopped are still delivered.
		select {
		case f := <-w.rx:
			return f, nil
		default:
		}
		return Frame{}, fmt.Errorf("btp: %s: %w", w.name, w.rxErr)
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Send writes a command frame to the IUT.
func (w *Worker) Send(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-w.closed:
		return ErrClosed
	default:
	}
	slog.Debug("[BTP] tx", "worker", w.name, "header", f.Header.String())
	return w.sock.WriteFrame(f)
}

// Close closes the socket, unblocks pending reads and waits for the
// receive loop to exit. Frames not yet read are dropped. Safe to call
// multiple times.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		close(w.closed)
		w.cancel()
		w.closeErr = w.sock.Close()

		w.mu.Lock()
		accepted := w.accepted
		w.mu.Unlock()
		if accepted {
			<-w.rxDone
		}
		slog.Debug("[BTP] worker closed", "worker", w.name)
	})
	return w.closeErr
}
