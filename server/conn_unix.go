//go:build linux
// +build linux

package server

import (
	"bytes"
	"fmt"

	"github.com/fzft/go-evhttp/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ConnState tags the phase of a connection's single request/response cycle.
type ConnState int

const (
	// StateReading accumulates request bytes until the header terminator.
	StateReading ConnState = iota
	// StateHandling parses the request and builds the response; no I/O.
	StateHandling
	// StateWriting drains the serialized response.
	StateWriting
)

var headerTerminator = []byte("\r\n\r\n")

const readChunkSize = 4096

// connPoller is the slice of the Registry a connection needs: re-arming its
// one-shot interest after a step, and detaching on teardown.
type connPoller interface {
	Reregister(fd int, tok Token, interest Interest) error
	Deregister(fd int) error
}

// Conn owns one accepted non-blocking socket. All methods run on the
// reactor goroutine; there is no locking anywhere.
type Conn struct {
	fd    int
	token Token
	state ConnState

	inbound  bytes.Buffer
	outbound bytes.Buffer

	poll connPoller
}

func NewConn(fd int, poll connPoller) *Conn {
	return &Conn{fd: fd, state: StateReading, poll: poll}
}

func (c *Conn) Fd() int          { return c.fd }
func (c *Conn) Token() Token     { return c.token }
func (c *Conn) State() ConnState { return c.state }

// Step advances the state machine for one readiness event. done=true means
// the socket has been closed and the token must be freed; a non-nil err is
// a connection-local failure that likewise requires removal (the socket is
// already closed by then). Every path through Step ends in exactly one
// Reregister, or in done/err.
func (c *Conn) Step(ev Event) (done bool, err error) {
	switch c.state {
	case StateReading:
		if !ev.Readable() {
			log.Logger.Debug("not readable", zap.Int("fd", c.fd), zap.Uint32("events", ev.Ready))
		}
		return c.stepRead()
	case StateWriting:
		if !ev.Writable() {
			log.Logger.Debug("not writable", zap.Int("fd", c.fd), zap.Uint32("events", ev.Ready))
		}
		return c.stepWrite()
	default:
		// Handling never waits for an event; a notification here is stale.
		return false, nil
	}
}

// stepRead drains everything the kernel currently has. Edge triggering only
// reports the transition to readable, so stopping after a single short read
// would lose already-arrived bytes for good.
func (c *Conn) stepRead() (bool, error) {
	chunk := make([]byte, readChunkSize)
	for {
		n, err := unix.Read(c.fd, chunk)
		switch {
		case n > 0:
			c.inbound.Write(chunk[:n])
			if bytes.HasSuffix(c.inbound.Bytes(), headerTerminator) {
				c.state = StateHandling
				return c.handle()
			}
		case n == 0:
			// Peer closed before a full header arrived: incomplete
			// request, tear down without a response.
			log.Logger.Debug("peer closed before terminator", zap.Int("fd", c.fd))
			c.Close()
			return true, nil
		case err == unix.EAGAIN:
			return c.rearm(Readable)
		case err == unix.EINTR:
			// retry
		default:
			c.Close()
			return false, fmt.Errorf("read fd %d: %w", c.fd, err)
		}
	}
}

// handle runs synchronously inside the step that found the terminator: it
// does no I/O, so there is nothing to wait for.
func (c *Conn) handle() (bool, error) {
	res := Handle(c.inbound.Bytes())
	res.Serialize(&c.outbound)
	c.state = StateWriting
	return c.rearm(Writable)
}

// stepWrite pushes the unwritten suffix of the outbound buffer.
func (c *Conn) stepWrite() (bool, error) {
	for c.outbound.Len() > 0 {
		n, err := unix.Write(c.fd, c.outbound.Bytes())
		if n > 0 {
			c.outbound.Next(n)
			continue
		}
		switch err {
		case unix.EAGAIN:
			return c.rearm(Writable)
		case unix.EINTR:
			// retry
		default:
			c.Close()
			return false, fmt.Errorf("write fd %d: %w", c.fd, err)
		}
	}

	// Response fully drained. One request per connection: close both
	// directions and free the slot.
	c.Close()
	return true, nil
}

func (c *Conn) rearm(interest Interest) (bool, error) {
	if err := c.poll.Reregister(c.fd, c.token, interest); err != nil {
		c.Close()
		return false, fmt.Errorf("rearm fd %d: %w", c.fd, err)
	}
	return false, nil
}

// Close detaches the socket from the poller, half-closes both directions
// and closes the fd. Once per connection.
func (c *Conn) Close() {
	if c.poll != nil {
		if err := c.poll.Deregister(c.fd); err != nil {
			log.Logger.Debug("deregister", zap.Int("fd", c.fd), zap.Error(err))
		}
	}
	if err := unix.Shutdown(c.fd, unix.SHUT_RDWR); err != nil && err != unix.ENOTCONN {
		log.Logger.Debug("shutdown", zap.Int("fd", c.fd), zap.Error(err))
	}
	if err := unix.Close(c.fd); err != nil {
		log.Logger.Debug("close", zap.Int("fd", c.fd), zap.Error(err))
	}
}
