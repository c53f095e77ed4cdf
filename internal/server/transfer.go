package server

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// transferData moves bytes between the two sides of an established session.
// from is the fd whose readiness event dispatched us. No byte read is ever
// discarded while the connection lives: a short write parks the remainder in
// the pending buffer and the source side stays un-armed until it drains.
func (s *Server) transferData(c *Conn, from int) {
	if c.State() == StateUnwritten {
		s.drainPending(c)
		return
	}
	s.relay(c, from)
}

// relay performs one read from the ready side and one write to its peer.
func (s *Server) relay(c *Conn, from int) {
	to := c.peer(from)

	var buf [chunkSize]byte
	n, err := unix.Read(from, buf[:])
	switch {
	case err == unix.EAGAIN:
		// Spurious wakeup; nothing to move.
		s.rearm(c, from, Readable)
		return
	case err != nil:
		slog.Debug("Read failed", "fd", from, "error", err)
		s.terminate(from)
		return
	case n == 0:
		// EOF: the peer closed or the shell exited.
		s.terminate(from)
		return
	}

	w, werr := unix.Write(to, buf[:n])
	if werr != nil {
		if werr != unix.EAGAIN {
			slog.Debug("Write failed", "fd", to, "error", werr)
			s.terminate(from)
			return
		}
		// Full EAGAIN: the kernel accepted nothing, so all n bytes are owed.
		w = 0
	}

	if w == n {
		s.rearm(c, from, Readable)
		return
	}

	// Short write: park the tail and pause the source side. Only the
	// destination is armed (for write); reading resumes after the drain.
	c.pendingLen = copy(c.pending[:], buf[w:n])
	c.pendingDst = to
	c.setState(StateUnwritten)
	s.rearm(c, to, Writable)
}

// drainPending retries the write that previously came up short. Only the
// write-armed destination fd can dispatch us here, so the buffer is owned by
// this worker until it drains.
func (s *Server) drainPending(c *Conn) {
	to := c.pendingDst

	n, err := unix.Write(to, c.pending[:c.pendingLen])
	if err != nil {
		if err == unix.EAGAIN {
			s.rearm(c, to, Writable)
			return
		}
		slog.Debug("Pending write failed", "fd", to, "error", err)
		s.terminate(to)
		return
	}

	if n < c.pendingLen {
		// Still short; shift the remainder to the front and keep waiting
		// for write readiness.
		copy(c.pending[:], c.pending[n:c.pendingLen])
		c.pendingLen -= n
		s.rearm(c, to, Writable)
		return
	}

	c.pendingLen = 0
	c.setState(StateEstablished)
	s.rearm(c, c.sockFD, Readable)
	s.rearm(c, c.ptyFD, Readable)
}

// rearm puts a still-live fd back into the event stream. This is the only
// mechanism by which an fd re-enters the mux after a one-shot delivery.
func (s *Server) rearm(c *Conn, fd int, in Interest) {
	if c.State() == StateTerminated {
		return
	}
	if err := s.mainMux.Modify(fd, in); err != nil {
		slog.Debug("Failed to re-arm fd", "fd", fd, "error", err)
	}
}
