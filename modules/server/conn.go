package server

import (
	"strings"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/grafana-kv/kvd/pkg/keyspace"
	log "github.com/grafana-kv/kvd/pkg/util/log"
	"github.com/grafana-kv/kvd/pkg/wire"
)

type connState int32

const (
	stateReq connState = iota
	stateRes
	stateEnd
)

// Conn is one client connection's state machine: a read buffer accumulating
// request bytes, a write buffer draining response bytes, and a REQ/RES/END
// state deciding which of the two is active. Both buffers are sized to hold
// at least one maximum-size framed message, per spec.
type Conn struct {
	fd    int
	state connState

	rbuf  []byte
	rused int

	wbuf  []byte
	wused int
	wsent int
}

func newConn(fd int) *Conn {
	return &Conn{
		fd:   fd,
		rbuf: make([]byte, wire.MaxFrameSize),
		wbuf: make([]byte, wire.MaxFrameSize),
	}
}

// wantRead/wantWrite tell the event loop which readiness interest to poll
// for. A connection in END is never polled; the loop closes it instead.
func (c *Conn) wantRead() bool  { return c.state == stateReq }
func (c *Conn) wantWrite() bool { return c.state == stateRes }
func (c *Conn) done() bool      { return c.state == stateEnd }

// onReadable is invoked by the event loop when the fd is read-ready and the
// connection is in REQ. onWritable is the RES counterpart. The two never
// run on the same poll iteration for one connection, since events requested
// reflect exactly one of REQ/RES (back-pressure, spec §4.F).
func (c *Conn) onReadable(ks *keyspace.KeySpace, m *metrics) {
	for {
		if c.rused == len(c.rbuf) {
			c.fail("read buffer full without a complete frame")
			return
		}

		n, err := unix.Read(c.fd, c.rbuf[c.rused:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return
		}
		if err != nil {
			level.Warn(log.Logger).Log("msg", "connection read error", "fd", c.fd, "err", err)
			c.state = stateEnd
			return
		}
		if n == 0 {
			if c.rused == 0 {
				level.Debug(log.Logger).Log("msg", "connection closed by peer", "fd", c.fd)
			} else {
				level.Warn(log.Logger).Log("msg", "peer EOF mid-frame", "fd", c.fd)
			}
			c.state = stateEnd
			return
		}
		c.rused += n
		m.bytesRead.Add(float64(n))

		if !c.drainRequests(ks, m) {
			return
		}
		if c.state != stateReq {
			// Transitioned to RES (or END): back-pressure says stop
			// reading until the pending response drains.
			return
		}
	}
}

func (c *Conn) onWritable(ks *keyspace.KeySpace, m *metrics) {
	c.tryFlush(m)
	if c.wsent < c.wused {
		return
	}
	c.wused, c.wsent = 0, 0
	c.state = stateReq

	// The flush above has just emptied the write buffer; if bytes from an
	// earlier pipelined read are still sitting in rbuf, finish them now
	// instead of waiting for the next readiness notification.
	c.drainRequests(ks, m)
}

// drainRequests parses and answers as many complete, buffered requests as
// it can while remaining in REQ (i.e. while each response drains
// synchronously). It returns false if a framing error ended the
// connection; the caller should stop touching c in that case.
func (c *Conn) drainRequests(ks *keyspace.KeySpace, m *metrics) bool {
	for c.state == stateReq {
		argv, consumed, err := wire.ParseRequest(c.rbuf[:c.rused])
		if errors.Is(err, wire.ErrIncomplete) {
			return true
		}
		if err != nil {
			c.fail(err.Error())
			return false
		}

		resp := ks.Execute(argv)
		m.commandsTotal.WithLabelValues(commandLabel(argv)).Inc()

		frame := wire.FrameResponse(resp)
		copy(c.wbuf, frame)
		c.wused = len(frame)
		c.wsent = 0

		c.compactRead(consumed)
		c.tryFlush(m)

		if c.wsent < c.wused {
			c.state = stateRes
			return true
		}
		c.wused, c.wsent = 0, 0
	}
	return true
}

func (c *Conn) compactRead(consumed int) {
	remaining := c.rused - consumed
	copy(c.rbuf[:remaining], c.rbuf[consumed:c.rused])
	c.rused = remaining
}

func (c *Conn) tryFlush(m *metrics) {
	for c.wsent < c.wused {
		n, err := unix.Write(c.fd, c.wbuf[c.wsent:c.wused])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return
		}
		if err != nil {
			level.Warn(log.Logger).Log("msg", "connection write error", "fd", c.fd, "err", err)
			c.state = stateEnd
			return
		}
		c.wsent += n
		m.bytesWritten.Add(float64(n))
	}
}

func (c *Conn) fail(reason string) {
	level.Warn(log.Logger).Log("msg", "protocol framing error", "fd", c.fd, "reason", reason)
	c.state = stateEnd
}

func commandLabel(argv [][]byte) string {
	if len(argv) == 0 {
		return ""
	}
	return strings.ToLower(string(argv[0]))
}
