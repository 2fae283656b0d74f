package server

import (
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	"github.com/grafana-kv/kvd/pkg/keyspace"
	log "github.com/grafana-kv/kvd/pkg/util/log"
)

// pollTickMillis is the poll timeout, per spec §4.G: a 1s tick exists to
// permit future housekeeping even though none is required yet.
const pollTickMillis = 1000

// Server is the single-threaded event loop: one listening fd, a set of
// live connections, and the key space they all execute commands against.
// Nothing here is safe for concurrent use from another goroutine — by
// design there is no other goroutine touching it, per spec §5.
type Server struct {
	listenFD int
	addr     string
	ks       *keyspace.KeySpace
	conns    map[int]*Conn
	metrics  *metrics
}

// New binds a non-blocking listening socket at addr and returns a Server
// ready to Run. reg receives the server's prometheus collectors; pass
// prometheus.DefaultRegisterer for normal use, or a fresh *prometheus.Registry
// in tests to avoid collector-already-registered panics across test cases.
func New(addr string, reg prometheus.Registerer) (*Server, error) {
	fd, bound, err := listen(addr)
	if err != nil {
		return nil, errors.Wrap(err, "starting listener")
	}
	return &Server{
		listenFD: fd,
		addr:     bound,
		ks:       keyspace.New(),
		conns:    make(map[int]*Conn),
		metrics:  newMetrics(reg),
	}, nil
}

// Addr returns the address the listener is bound to (useful in tests that
// bind to port 0 and need to learn the ephemeral port picked).
func (s *Server) Addr() string { return s.addr }

// Run drives the event loop until stop is closed or a fatal system error
// occurs (§7: bind/listen/poll failures are fatal; everything else is
// contained per-connection). It never returns nil except when stop fires.
func (s *Server) Run(stop <-chan struct{}) error {
	level.Info(log.Logger).Log("msg", "event loop started", "addr", s.addr)
	defer s.closeAll()

	for {
		select {
		case <-stop:
			level.Info(log.Logger).Log("msg", "event loop stopping")
			return nil
		default:
		}

		fds, order := s.buildPollSet()

		n, err := unix.Poll(fds, pollTickMillis)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "poll")
		}
		if n == 0 {
			continue // tick: no readiness, nothing to do yet
		}

		// fds[0] is always the listener; order[i] maps fds[i] (i>=1) back
		// to the connection fd it was built for.
		if fds[0].Revents != 0 {
			s.acceptOne()
		}
		for i := 1; i < len(fds); i++ {
			if fds[i].Revents == 0 {
				continue
			}
			c := s.conns[order[i]]
			if c == nil {
				continue
			}
			s.service(c, fds[i].Revents)
			if c.done() {
				s.closeConn(c)
			}
		}
	}
}

// buildPollSet rebuilds the poll array from scratch every iteration, per
// spec §4.G step 1: slot 0 is always the listener, then one slot per live
// connection carrying exactly its current read/write interest.
func (s *Server) buildPollSet() ([]unix.PollFd, []int) {
	fds := make([]unix.PollFd, 1, len(s.conns)+1)
	fds[0] = unix.PollFd{Fd: int32(s.listenFD), Events: unix.POLLIN}
	order := make([]int, 1, len(s.conns)+1)
	order[0] = s.listenFD

	for fd, c := range s.conns {
		var events int16
		switch {
		case c.wantWrite():
			events = unix.POLLOUT
		case c.wantRead():
			events = unix.POLLIN
		default:
			continue // END, about to be reaped
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		order = append(order, fd)
	}
	return fds, order
}

func (s *Server) service(c *Conn, revents int16) {
	if revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 && revents&(unix.POLLIN|unix.POLLOUT) == 0 {
		level.Warn(log.Logger).Log("msg", "connection socket error", "fd", c.fd)
		c.state = stateEnd
		return
	}
	if c.wantWrite() {
		c.onWritable(s.ks, s.metrics)
	} else {
		c.onReadable(s.ks, s.metrics)
	}
}

func (s *Server) acceptOne() {
	fd, _, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK)
	if err == unix.EAGAIN || err == unix.EINTR {
		return
	}
	if err != nil {
		level.Warn(log.Logger).Log("msg", "accept failed", "err", err)
		return
	}

	s.conns[fd] = newConn(fd)
	s.metrics.connsOpen.Inc()
	s.metrics.connsAccepted.Inc()
	level.Debug(log.Logger).Log("msg", "connection accepted", "fd", fd)
}

func (s *Server) closeConn(c *Conn) {
	_ = unix.Close(c.fd)
	delete(s.conns, c.fd)
	s.metrics.connsOpen.Dec()
	level.Debug(log.Logger).Log("msg", "connection closed", "fd", c.fd)
}

func (s *Server) closeAll() {
	for _, c := range s.conns {
		_ = unix.Close(c.fd)
	}
	s.conns = make(map[int]*Conn)
	_ = unix.Close(s.listenFD)
}
