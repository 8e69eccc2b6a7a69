//go:build linux
// +build linux

package server

import (
	"unsafe"

	"github.com/fzft/go-evhttp/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type pipeSignal uint64

const signalStop pipeSignal = 1

// Event is one readiness notification, keyed by the token its fd was
// registered under.
type Event struct {
	Token Token
	Ready uint32
}

func (e Event) Readable() bool { return e.Ready&uint32(Readable) != 0 }
func (e Event) Writable() bool { return e.Ready&uint32(Writable) != 0 }

// Closed reports an error or hangup condition on the fd.
func (e Event) Closed() bool { return e.Ready&(unix.EPOLLERR|unix.EPOLLHUP) != 0 }

// Poll owns the epoll instance and the wakeup eventfd. Wait is the only
// blocking call in the whole process.
type Poll struct {
	*Registry
	epollFd int
	efd     int
	events  []unix.EpollEvent
}

func NewPoll(maxEvents int) (*Poll, error) {
	// Create a new epoll instance
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		log.Logger.Error("Failed to create epoll", zap.Error(err))
		return nil, err
	}

	r := NewRegistry(epfd)

	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		log.Logger.Error("Failed to create eventfd", zap.Error(err))
		unix.Close(epfd)
		return nil, err
	}

	// Register the eventfd to epoll for read events
	if err := r.RegisterPersistent(efd, TokenWakeup, Readable); err != nil {
		log.Logger.Error("Failed to add eventfd to epoll", zap.Error(err))
		unix.Close(efd)
		unix.Close(epfd)
		return nil, err
	}

	return &Poll{
		Registry: r,
		epollFd:  epfd,
		efd:      efd,
		events:   make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Wait blocks until at least one readiness event is available and appends
// the batch to dst in delivery order. EINTR and empty wakeups retry; any
// other failure is fatal to the loop.
func (p *Poll) Wait(dst []Event) ([]Event, error) {
	for {
		n, err := unix.EpollWait(p.epollFd, p.events, -1)
		if n == 0 || (n < 0 && err == unix.EINTR) {
			continue
		} else if err != nil {
			return nil, err
		}

		for i := 0; i < n; i++ {
			ev := &p.events[i]
			dst = append(dst, Event{Token: Token(ev.Fd), Ready: ev.Events})
		}
		return dst, nil
	}
}

// handleSignal drains the eventfd and reports a stop request.
func (p *Poll) handleSignal() error {
	var buf uint64
	if _, err := unix.Read(p.efd, (*(*[8]byte)(unsafe.Pointer(&buf)))[:]); err != nil {
		log.Logger.Error("Failed to read from event fd", zap.Error(err))
		return nil
	}
	if pipeSignal(buf) == signalStop {
		return ErrSignalStopped
	}
	return nil
}

// sendSignal wakes the loop. Safe to call from any goroutine.
func (p *Poll) sendSignal(sig pipeSignal) error {
	_, err := unix.Write(p.efd, (*(*[8]byte)(unsafe.Pointer(&sig)))[:])
	if err != nil {
		log.Logger.Error("Failed to write to event fd", zap.Error(err))
	}
	return err
}

// CloseGracefully order: every registered fd (eventfd, listener and live
// connections), then the epoll fd itself.
func (p *Poll) CloseGracefully() error {
	if err := p.CloseAll(); err != nil {
		log.Logger.Debug("Failed to close registered fds", zap.Error(err))
	}
	if err := CloseFd(p.epollFd); err != nil {
		log.Logger.Debug("Failed to close epoll", zap.Error(err))
		return err
	}
	return nil
}
