//go:build linux
// +build linux

package server

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fzft/go-evhttp/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	// DefaultAddr mirrors the reference deployment: loopback, fixed port.
	DefaultAddr = "127.0.0.1:13265"

	// DefaultBacklog bounds the kernel listen queue.
	DefaultBacklog = 1024

	// MaxConns caps the connection table.
	MaxConns = 1024
)

// Server ties a non-blocking IPv4 listening socket to a Reactor. Addr and
// Backlog are the only configuration; everything else is fixed by the
// protocol.
type Server struct {
	Addr    string
	Backlog int

	lnFd    int
	bound   *net.TCPAddr
	sigCh   chan os.Signal
	reactor *Reactor
}

func NewServer(addr string) *Server {
	return &Server{
		Addr:    addr,
		Backlog: DefaultBacklog,
		lnFd:    -1,
	}
}

// Listen creates the listening socket and the reactor. After it returns,
// BoundAddr reports the actual address, which matters when Addr asks for
// port 0.
func (s *Server) Listen() error {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", s.Addr)
	if err != nil {
		return err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return os.NewSyscallError("socket", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return os.NewSyscallError("setsockopt", err)
	}

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, s.Backlog); err != nil {
		unix.Close(fd)
		return os.NewSyscallError("listen", err)
	}

	name, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return os.NewSyscallError("getsockname", err)
	}
	inet := name.(*unix.SockaddrInet4)
	s.bound = &net.TCPAddr{IP: net.IP(inet.Addr[:]), Port: inet.Port}

	s.sigCh = make(chan os.Signal, 1)
	reactor, err := NewReactor(fd, MaxConns, s.sigCh)
	if err != nil {
		unix.Close(fd)
		return err
	}

	s.lnFd = fd
	s.reactor = reactor
	return nil
}

// BoundAddr is valid after Listen.
func (s *Server) BoundAddr() *net.TCPAddr { return s.bound }

// Serve runs the event loop until Shutdown, an OS signal or a fatal poller
// error. Listen must have succeeded first.
func (s *Server) Serve() error {
	signal.Notify(s.sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(s.sigCh)

	log.Logger.Info("listening", zap.String("addr", s.bound.String()))
	s.reactor.Run()
	log.Logger.Info("shutting down server")
	return nil
}

// Run is Listen followed by Serve.
func (s *Server) Run() error {
	if err := s.Listen(); err != nil {
		log.Logger.Error("listen error", zap.Error(err))
		return err
	}
	return s.Serve()
}

// Shutdown wakes the loop and asks it to exit, then waits for every fd to
// be closed. Safe from any goroutine once Listen has returned.
func (s *Server) Shutdown() {
	if s.reactor == nil {
		return
	}
	s.reactor.Stop()
	<-s.reactor.Done()
}
