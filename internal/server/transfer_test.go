package server

import (
	"bytes"
	"testing"

	"golang.org/x/sys/unix"
)

// newTransferHarness builds a server around two socketpairs standing in for
// the client socket and the PTY master. Returns the server, the connection,
// and the far ends of each pair.
func newTransferHarness(t *testing.T) (*Server, *Conn, int, int) {
	t.Helper()

	s := &Server{
		mainMux: newTestMux(t),
		table:   NewTable(4096),
	}

	sockNear, sockFar := testSocketpair(t)
	ptyNear, ptyFar := testSocketpair(t)

	c := newConn(sockNear, "127.0.0.1:5000")
	c.ptyFD = ptyNear
	c.setState(StateEstablished)

	s.table.Put(sockNear, c)
	s.table.Put(ptyNear, c)
	if err := s.mainMux.Add(sockNear, Readable); err != nil {
		t.Fatalf("Add socket: %v", err)
	}
	if err := s.mainMux.Add(ptyNear, Readable); err != nil {
		t.Fatalf("Add pty: %v", err)
	}

	return s, c, sockFar, ptyFar
}

// drainFD reads everything currently buffered on fd.
func drainFD(t *testing.T, fd int) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 64*1024)
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EAGAIN || n == 0 {
			return out
		}
		if err != nil {
			t.Fatalf("drain read: %v", err)
		}
		out = append(out, buf[:n]...)
	}
}

// fillSendBuffer writes to fd until the kernel refuses more, returning the
// number of bytes it absorbed.
func fillSendBuffer(t *testing.T, fd int) int {
	t.Helper()
	chunk := make([]byte, 64*1024)
	total := 0
	for {
		n, err := unix.Write(fd, chunk)
		if err == unix.EAGAIN {
			return total
		}
		if err != nil {
			t.Fatalf("fill write: %v", err)
		}
		total += n
	}
}

func TestTransfer_RelaysSocketToPty(t *testing.T) {
	s, c, sockFar, ptyFar := newTransferHarness(t)

	msg := []byte("echo hi\n")
	if _, err := unix.Write(sockFar, msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	s.transferData(c, c.sockFD)

	got := drainFD(t, ptyFar)
	if !bytes.Equal(got, msg) {
		t.Fatalf("pty received %q, want %q", got, msg)
	}
	if c.State() != StateEstablished {
		t.Errorf("state = %v, want established", c.State())
	}
}

func TestTransfer_RelaysPtyToSocket(t *testing.T) {
	s, c, sockFar, ptyFar := newTransferHarness(t)

	msg := []byte("hi\r\n")
	if _, err := unix.Write(ptyFar, msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	s.transferData(c, c.ptyFD)

	got := drainFD(t, sockFar)
	if !bytes.Equal(got, msg) {
		t.Fatalf("socket received %q, want %q", got, msg)
	}
}

func TestTransfer_SpuriousWakeupKeepsState(t *testing.T) {
	s, c, _, _ := newTransferHarness(t)

	// Nothing to read: the dispatcher re-arms and moves on.
	s.transferData(c, c.sockFD)

	if c.State() != StateEstablished {
		t.Errorf("state = %v, want established", c.State())
	}
	if c.pendingLen != 0 {
		t.Errorf("pendingLen = %d, want 0", c.pendingLen)
	}
}

func TestTransfer_EOFTerminates(t *testing.T) {
	s, c, sockFar, _ := newTransferHarness(t)

	unix.Close(sockFar)
	s.transferData(c, c.sockFD)

	if c.State() != StateTerminated {
		t.Fatalf("state = %v, want terminated", c.State())
	}
	if s.table.Get(c.sockFD) != nil || s.table.Get(c.ptyFD) != nil {
		t.Error("table entries not cleared after EOF teardown")
	}
}

func TestTransfer_ShortWriteBuffersAndDrains(t *testing.T) {
	s, c, sockFar, ptyFar := newTransferHarness(t)

	// Jam the PTY-side send buffer so the relay write comes up empty-handed.
	filler := fillSendBuffer(t, c.ptyFD)

	msg := []byte("held back bytes")
	if _, err := unix.Write(sockFar, msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	s.transferData(c, c.sockFD)

	if c.State() != StateUnwritten {
		t.Fatalf("state = %v, want unwritten", c.State())
	}
	if c.pendingLen != len(msg) {
		t.Fatalf("pendingLen = %d, want %d", c.pendingLen, len(msg))
	}
	if c.pendingDst != c.ptyFD {
		t.Fatalf("pendingDst = %d, want pty fd %d", c.pendingDst, c.ptyFD)
	}

	// The peer drains; write readiness would now dispatch the pending retry.
	drained := drainFD(t, ptyFar)
	if len(drained) != filler {
		t.Fatalf("drained %d filler bytes, want %d", len(drained), filler)
	}

	s.transferData(c, c.ptyFD)

	if c.State() != StateEstablished {
		t.Fatalf("state after drain = %v, want established", c.State())
	}
	if c.pendingLen != 0 {
		t.Fatalf("pendingLen after drain = %d, want 0", c.pendingLen)
	}

	got := drainFD(t, ptyFar)
	if !bytes.Equal(got, msg) {
		t.Fatalf("pty received %q after drain, want %q", got, msg)
	}
}
