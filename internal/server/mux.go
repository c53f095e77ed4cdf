package server

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// maxEvents bounds a single epoll_wait batch.
const maxEvents = 2048

// Interest selects the readiness direction an fd is armed for. An fd is armed
// for exactly one direction at a time; flipping between them goes through
// Modify.
type Interest int

const (
	Readable Interest = iota
	Writable
)

// Event is a decoded readiness notification.
type Event struct {
	FD       int
	Readable bool
	Writable bool
	Hangup   bool
}

// Mux wraps an epoll instance. Every registration is edge-triggered and
// one-shot: after a notification is delivered for an fd, no further
// notifications arrive for it until the fd is explicitly re-armed with
// Modify. This is the property that lets at most one worker hold any fd at a
// time.
type Mux struct {
	fd int
}

// NewMux creates an epoll instance.
func NewMux() (*Mux, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Mux{fd: fd}, nil
}

// FD returns the epoll fd, used to nest one mux inside another.
func (m *Mux) FD() int {
	return m.fd
}

func interestEvents(in Interest) uint32 {
	if in == Writable {
		return unix.EPOLLOUT | unix.EPOLLET | unix.EPOLLONESHOT
	}
	return unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLET | unix.EPOLLONESHOT
}

// Add registers fd with the given interest, edge-triggered and one-shot.
func (m *Mux) Add(fd int, in Interest) error {
	ev := unix.EpollEvent{Events: interestEvents(in), Fd: int32(fd)}
	if err := unix.EpollCtl(m.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

// Modify re-arms fd with the given interest. Re-arming an fd whose readiness
// was already consumed redelivers the event, so no edge is ever lost across a
// one-shot cycle.
func (m *Mux) Modify(fd int, in Interest) error {
	ev := unix.EpollEvent{Events: interestEvents(in), Fd: int32(fd)}
	if err := unix.EpollCtl(m.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

// Remove deregisters fd without closing it.
func (m *Mux) Remove(fd int) error {
	if err := unix.EpollCtl(m.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

// Wait blocks until at least one event or the timeout elapses and fills
// events with the batch. msec follows epoll_wait semantics: -1 blocks
// indefinitely, 0 polls. EINTR is retried internally.
func (m *Mux) Wait(events []unix.EpollEvent, msec int) (int, error) {
	for {
		n, err := unix.EpollWait(m.fd, events, msec)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("epoll_wait: %w", err)
		}
		return n, nil
	}
}

// Close releases the epoll instance.
func (m *Mux) Close() error {
	return unix.Close(m.fd)
}

func decodeEvent(ev unix.EpollEvent) Event {
	return Event{
		FD:       int(ev.Fd),
		Readable: ev.Events&unix.EPOLLIN != 0,
		Writable: ev.Events&unix.EPOLLOUT != 0,
		Hangup:   ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0,
	}
}
