//go:build linux
// +build linux

package server

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// https://copyconstruct.medium.com/the-method-to-epolls-madness-d9d2d6378642

// Interest selects which readiness transitions an fd is armed for.
type Interest uint32

const (
	Readable Interest = unix.EPOLLPRI | unix.EPOLLIN
	Writable Interest = unix.EPOLLOUT
)

// oneshot is the delivery mode for connection sockets: notifications fire
// only on transitions and the interest disarms itself after one event, so
// every state-machine step must end by re-arming or deregistering.
const oneshot = uint32(unix.EPOLLET | unix.EPOLLONESHOT)

// Registry is a wrapper around epoll_ctl. It tracks which fds are currently
// registered so arming can pick ADD vs MOD and shutdown can close every fd
// it still owns.
type Registry struct {
	epollFd int
	armed   map[int]Token
}

func NewRegistry(epollFd int) *Registry {
	return &Registry{
		epollFd: epollFd,
		armed:   make(map[int]Token),
	}
}

// Register arms fd under tok for the given interest, edge-triggered and
// one-shot. The token rides in the epoll data field. Registering an fd that
// is already armed re-arms it, so arming twice without an intervening
// readiness transition still yields at most one event.
func (r *Registry) Register(fd int, tok Token, interest Interest) error {
	op := unix.EPOLL_CTL_ADD
	if _, ok := r.armed[fd]; ok {
		op = unix.EPOLL_CTL_MOD
	}
	ev := &unix.EpollEvent{Events: uint32(interest) | oneshot, Fd: int32(tok)}
	if err := unix.EpollCtl(r.epollFd, op, fd, ev); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	r.armed[fd] = tok
	return nil
}

// Reregister re-arms a one-shot interest after it has fired.
func (r *Registry) Reregister(fd int, tok Token, interest Interest) error {
	return r.Register(fd, tok, interest)
}

// RegisterPersistent arms fd edge-triggered without one-shot. Only the
// listening socket and the wakeup eventfd use this; they are never re-armed.
func (r *Registry) RegisterPersistent(fd int, tok Token, interest Interest) error {
	ev := &unix.EpollEvent{Events: uint32(interest) | uint32(unix.EPOLLET), Fd: int32(tok)}
	if err := unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return os.NewSyscallError("epoll_ctl add", err)
	}
	r.armed[fd] = tok
	return nil
}

// Deregister removes fd from epoll. Unknown fds are a no-op.
func (r *Registry) Deregister(fd int) error {
	if _, ok := r.armed[fd]; !ok {
		return nil
	}
	if err := unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return os.NewSyscallError("epoll_ctl del", err)
	}
	delete(r.armed, fd)
	return nil
}

// CloseAll deregisters and closes every fd still registered. Shutdown path
// only; prevents fd leaks.
func (r *Registry) CloseAll() error {
	var errs MultiError

	for fd := range r.armed {
		if err := r.Deregister(fd); err != nil {
			errs = append(errs, fmt.Errorf("deregister fd %d: %w", fd, err))
			continue
		}
		if err := unix.Close(fd); err != nil {
			errs = append(errs, fmt.Errorf("close fd %d: %w", fd, err))
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
