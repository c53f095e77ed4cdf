package server

import "testing"

func TestConn_InitialState(t *testing.T) {
	c := newConn(7, "127.0.0.1:5000")

	if c.State() != StateNew {
		t.Errorf("initial state = %v, want new", c.State())
	}
	if c.ptyFD != -1 {
		t.Errorf("ptyFD = %d, want -1 before the shell is spawned", c.ptyFD)
	}
	if c.pendingLen != 0 {
		t.Errorf("pendingLen = %d, want 0", c.pendingLen)
	}
}

func TestConn_Peer(t *testing.T) {
	c := newConn(7, "127.0.0.1:5000")
	c.ptyFD = 12

	if got := c.peer(7); got != 12 {
		t.Errorf("peer(7) = %d, want 12", got)
	}
	if got := c.peer(12); got != 7 {
		t.Errorf("peer(12) = %d, want 7", got)
	}
}

func TestConn_MarkTerminatedOnce(t *testing.T) {
	c := newConn(7, "127.0.0.1:5000")
	c.setState(StateEstablished)

	if !c.markTerminated() {
		t.Fatal("first markTerminated returned false")
	}
	if c.State() != StateTerminated {
		t.Fatalf("state = %v, want terminated", c.State())
	}
	if c.markTerminated() {
		t.Error("second markTerminated returned true; teardown would run twice")
	}
}

func TestTable_PutGetClear(t *testing.T) {
	table := NewTable(64)
	c := newConn(10, "127.0.0.1:5000")

	if got := table.Get(10); got != nil {
		t.Fatal("expected empty slot before Put")
	}

	table.Put(10, c)
	if got := table.Get(10); got != c {
		t.Fatal("Get did not return the inserted record")
	}

	table.Clear(10)
	if got := table.Get(10); got != nil {
		t.Fatal("expected empty slot after Clear")
	}
}

func TestTable_OutOfRange(t *testing.T) {
	table := NewTable(8)

	if got := table.Get(-1); got != nil {
		t.Error("Get(-1) should return nil")
	}
	if got := table.Get(8); got != nil {
		t.Error("Get past capacity should return nil")
	}
	// Clear out of range must not panic.
	table.Clear(-1)
	table.Clear(100)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNew, "new"},
		{StateValidated, "validated"},
		{StateEstablished, "established"},
		{StateUnwritten, "unwritten"},
		{StateTerminated, "terminated"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
