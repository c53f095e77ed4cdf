package server

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// timerSet owns the handshake timers: one one-shot timerfd per connection
// still in New, all registered in a dedicated mux that is itself nested
// inside the main mux. The slot table maps a timer fd to its awaiting
// connection record; holding the record rather than the socket fd means a
// recycled descriptor can never be mistaken for the session that originally
// armed the timer.
type timerSet struct {
	mux   *Mux
	slots []atomic.Pointer[Conn]
}

func newTimerSet(size int) (*timerSet, error) {
	mux, err := NewMux()
	if err != nil {
		return nil, err
	}
	return &timerSet{
		mux:   mux,
		slots: make([]atomic.Pointer[Conn], size),
	}, nil
}

// start arms a one-shot countdown for the connection. When it fires, the
// reaper terminates the session if it is still in New.
func (t *timerSet) start(c *Conn, d time.Duration) error {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("timerfd_create: %w", err)
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(d.Nanoseconds())}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return fmt.Errorf("timerfd_settime: %w", err)
	}
	if fd >= len(t.slots) {
		unix.Close(fd)
		return fmt.Errorf("timer fd %d exceeds table capacity", fd)
	}
	t.slots[fd].Store(c)
	c.timerFD = fd
	if err := t.mux.Add(fd, Readable); err != nil {
		t.slots[fd].Store(nil)
		unix.Close(fd)
		return err
	}
	return nil
}

// reap drains every expired timer. Connections that advanced past New are
// left alone; their timer is simply closed. Runs inline on the listener
// thread, so it never contends with data traffic in the job queue.
func (t *timerSet) reap(terminate func(fd int)) {
	events := make([]unix.EpollEvent, maxEvents)
	n, err := t.mux.Wait(events, 0)
	if err != nil {
		slog.Error("Failed to poll handshake timers", "error", err)
		return
	}

	for _, ev := range events[:n] {
		tfd := int(ev.Fd)

		// Consume the expiration count so the fd reads clean.
		var buf [8]byte
		unix.Read(tfd, buf[:])

		c := t.slots[tfd].Swap(nil)
		if c != nil && c.State() == StateNew {
			slog.Debug("Handshake deadline expired", "fd", c.sockFD, "remote", c.remoteAddr)
			terminate(c.sockFD)
		}

		if err := t.mux.Remove(tfd); err != nil {
			slog.Debug("Failed to deregister handshake timer", "timer_fd", tfd, "error", err)
		}
		unix.Close(tfd)
	}
}

func (t *timerSet) close() {
	t.mux.Close()
}
