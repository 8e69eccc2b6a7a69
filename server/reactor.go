//go:build linux
// +build linux

package server

import (
	"fmt"
	"os"

	"github.com/fzft/go-evhttp/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Reactor owns the poller and the connection table and runs the event loop.
// Exactly one goroutine, the one inside Run, ever touches either; the
// signal forwarder only pokes the eventfd.
type Reactor struct {
	poll   *Poll
	slab   *Slab
	lnFd   int
	done   chan struct{}
	signal chan os.Signal
}

func NewReactor(lnFd int, capacity int, signal chan os.Signal) (*Reactor, error) {
	// two extra slots for the listener and the eventfd
	poll, err := NewPoll(capacity + 2)
	if err != nil {
		return nil, err
	}

	// Register the listener to epoll for read events
	if err := poll.RegisterPersistent(lnFd, TokenListener, Readable); err != nil {
		log.Logger.Error("Failed to add listener to epoll", zap.Error(err))
		poll.CloseGracefully()
		return nil, err
	}

	return &Reactor{
		poll:   poll,
		slab:   NewSlab(capacity),
		lnFd:   lnFd,
		done:   make(chan struct{}),
		signal: signal,
	}, nil
}

// Run blocks until a stop signal or a fatal poller error.
func (r *Reactor) Run() {
	go r.forwardSignals()
	r.loop()
}

// Stop wakes the loop and asks it to exit. Safe from any goroutine.
func (r *Reactor) Stop() {
	r.poll.sendSignal(signalStop)
}

// Done is closed once the loop has exited and all fds are closed.
func (r *Reactor) Done() <-chan struct{} { return r.done }

func (r *Reactor) forwardSignals() {
	select {
	case <-r.signal:
		log.Logger.Info("signal received")
		r.poll.sendSignal(signalStop)
	case <-r.done:
	}
}

func (r *Reactor) loop() {
	defer close(r.done)

	// handle cleanup if necessary
	defer r.poll.CloseGracefully()

	batch := make([]Event, 0, 64)
	for {
		var err error
		batch, err = r.poll.Wait(batch[:0])
		if err != nil {
			// Only the multiplexer failing is fatal.
			log.Logger.Error("epoll wait error", zap.Error(err))
			return
		}

		for _, ev := range batch {
			switch err := r.dispatch(ev); err {
			case nil:
			case ErrSignalStopped:
				log.Logger.Info("Received stop signal. Exiting event loop.")
				return
			default:
				// Connection-local failures never stop the loop.
				log.Logger.Warn("connection error",
					zap.Uint32("token", uint32(ev.Token)), zap.Error(err))
			}
		}
	}
}

func (r *Reactor) dispatch(ev Event) error {
	switch ev.Token {
	case TokenWakeup:
		return r.poll.handleSignal()
	case TokenListener:
		return r.accept()
	default:
		conn := r.slab.Get(ev.Token)
		if conn == nil {
			// Stale token: the connection was torn down after this event
			// was queued. Nothing to dispatch.
			log.Logger.Debug("event for unknown token", zap.Uint32("token", uint32(ev.Token)))
			return nil
		}
		if ev.Closed() {
			conn.Close()
			r.slab.Remove(ev.Token)
			return nil
		}
		done, err := conn.Step(ev)
		if done || err != nil {
			r.slab.Remove(ev.Token)
		}
		return err
	}
}

// accept drains the listen queue. Edge triggering delivers one event per
// transition, so everything queued must be accepted now.
func (r *Reactor) accept() error {
	for {
		connFd, sa, err := unix.Accept(r.lnFd)
		if err != nil {
			// No more connections to accept right now.
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("accept error: %w", err)
		}

		// set the socket to non-blocking mode
		if err := unix.SetNonblock(connFd, true); err != nil {
			log.Logger.Error("set nonblock error", zap.Int("fd", connFd), zap.Error(err))
			unix.Close(connFd)
			continue
		}

		conn := NewConn(connFd, r.poll.Registry)
		tok, err := r.slab.Insert(conn)
		if err != nil {
			// Table at capacity: reject this client, keep the listener.
			log.Logger.Warn("connection table full, rejecting", zap.Int("fd", connFd))
			unix.Close(connFd)
			continue
		}

		// register the new connection to epoll for read events
		if err := r.poll.Register(connFd, tok, Readable); err != nil {
			log.Logger.Error("register read error", zap.Int("fd", connFd), zap.Error(err))
			r.slab.Remove(tok)
			unix.Close(connFd)
			continue
		}

		log.Logger.Debug("new connection",
			zap.Int("fd", connFd),
			zap.Uint32("token", uint32(tok)),
			zap.String("addr", sockaddrIP(sa)))
	}
}
