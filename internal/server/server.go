package server

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"

	"go.rembash.dev/rembash/internal/core"
	"go.rembash.dev/rembash/internal/db"
)

// Wire protocol tokens. The byte streams on either side of the handshake are
// opaque: no framing, no keepalive, no length prefixing.
const (
	Challenge  = "<rembash>\n"
	Proceed    = "<ok>\n"
	ErrorReply = "<error>\n"
)

// Server is the single-threaded, event-driven engine: one listener goroutine
// waiting on the main mux, a fixed worker pool draining ready fds, and a
// timer mux nested inside the main mux for handshake deadlines. All shared
// state lives in the connection table and the job queue.
type Server struct {
	cfg *core.Configuration

	mainMux  *Mux
	timers   *timerSet
	table    *Table
	pool     *Pool
	database *db.DB

	listenFD int

	// Hot-reloadable handshake parameters, consulted per connection.
	secretLine       atomic.Pointer[string]
	handshakeTimeout atomic.Int64

	// Stats counters.
	sessions   atomic.Int64
	accepted   atomic.Uint64
	dropped    atomic.Uint64
	terminated atomic.Uint64
}

// New creates a server from the configuration. No resources are acquired
// until Run.
func New(cfg *core.Configuration) *Server {
	s := &Server{cfg: cfg}
	line := cfg.Secret + "\n"
	s.secretLine.Store(&line)
	s.handshakeTimeout.Store(int64(cfg.HandshakeTimeout))
	return s
}

// Run acquires the listening socket, muxes and worker pool, then serves
// forever. It returns only on a startup failure or a mux failure; callers
// treat any return as fatal.
func (s *Server) Run() error {
	if database, err := db.Open(s.cfg.DatabasePath); err != nil {
		slog.Error("Failed to open event database", "error", err, "path", s.cfg.DatabasePath)
	} else {
		s.database = database
		defer s.database.Close()
		version := core.FormatVersion(core.Version)
		if err := s.database.LogDaemonEvent("start", fmt.Sprintf("server started - version: %s, port: %d", version, s.cfg.ListenPort)); err != nil {
			slog.Error("Failed to log server start", "error", err)
		}
	}

	mainMux, err := NewMux()
	if err != nil {
		return err
	}
	s.mainMux = mainMux

	timers, err := newTimerSet(s.cfg.TableSize())
	if err != nil {
		return err
	}
	s.timers = timers

	// Nest the timer mux inside the main mux so one goroutine waits on both.
	if err := s.mainMux.Add(s.timers.mux.FD(), Readable); err != nil {
		return err
	}

	s.table = NewTable(s.cfg.TableSize())

	listenFD, err := listenSocket(s.cfg.ListenPort)
	if err != nil {
		return err
	}
	s.listenFD = listenFD
	if err := s.mainMux.Add(listenFD, Readable); err != nil {
		return err
	}

	workers := s.cfg.PoolWorkers()
	s.pool = NewPool(workers, s.cfg.QueueCapacity(), s.dispatch)

	slog.Info("Server listening",
		"port", s.cfg.ListenPort,
		"workers", workers,
		"queue_capacity", s.cfg.QueueCapacity(),
		"max_clients", s.cfg.MaxClients)

	s.watchConfig()
	s.startStatsLoop()

	return s.listenLoop()
}

// listenSocket creates the non-blocking IPv4 listener with SO_REUSEADDR.
func listenSocket(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("failed to create listening socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to bind port %d: %w", port, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to listen: %w", err)
	}
	return fd, nil
}

// listenLoop is the single thread calling epoll_wait on the main mux. Timer
// events are reaped inline (they fire rarely; keeping them out of the job
// queue avoids contending with data traffic); hangups go straight to the
// terminator; everything else is enqueued for the workers.
func (s *Server) listenLoop() error {
	events := make([]unix.EpollEvent, maxEvents)
	for {
		n, err := s.mainMux.Wait(events, -1)
		if err != nil {
			return err
		}
		for _, raw := range events[:n] {
			ev := decodeEvent(raw)
			switch {
			case ev.FD == s.timers.mux.FD():
				s.timers.reap(s.terminate)
				if err := s.mainMux.Modify(s.timers.mux.FD(), Readable); err != nil {
					slog.Error("Failed to re-arm timer mux", "error", err)
				}
			case ev.Readable || ev.Writable:
				s.pool.Enqueue(ev.FD)
			case ev.Hangup:
				s.terminate(ev.FD)
			}
		}
	}
}

// dispatch is the work function the pool runs for each ready fd. The one-shot
// guarantee means no other worker holds this fd; whatever re-arming the
// branch performs is the only way the fd re-enters the event stream.
func (s *Server) dispatch(fd int) {
	if fd == s.listenFD {
		s.acceptClients()
		if err := s.mainMux.Modify(fd, Readable); err != nil {
			slog.Error("Failed to re-arm listener", "error", err)
		}
		return
	}

	c := s.table.Get(fd)
	if c == nil {
		// Already terminated between event delivery and dispatch.
		return
	}

	switch c.State() {
	case StateNew:
		s.completeHandshake(c)
	case StateTerminated:
		return
	default:
		s.transferData(c, fd)
	}
}

// acceptClients drains the listening socket. Each new connection gets a
// record in New, a read-armed socket, the challenge token and a handshake
// timer.
func (s *Server) acceptClients() {
	for {
		fd, sa, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err == unix.ECONNABORTED || err == unix.EINTR {
			continue
		}
		if err != nil {
			slog.Error("Accept failed", "error", err)
			return
		}

		if fd >= s.table.Capacity() {
			slog.Warn("Connection table full, rejecting client", "fd", fd)
			s.dropped.Add(1)
			unix.Close(fd)
			continue
		}

		c := newConn(fd, formatSockaddr(sa))
		s.table.Put(fd, c)
		if err := s.mainMux.Add(fd, Readable); err != nil {
			slog.Error("Failed to register client socket", "fd", fd, "error", err)
			s.table.Clear(fd)
			unix.Close(fd)
			continue
		}

		if _, err := unix.Write(fd, []byte(Challenge)); err != nil {
			slog.Debug("Failed to send challenge", "fd", fd, "error", err)
			s.terminate(fd)
			continue
		}

		if err := s.timers.start(c, s.currentHandshakeTimeout()); err != nil {
			slog.Error("Failed to start handshake timer", "fd", fd, "error", err)
		}

		s.accepted.Add(1)
		s.sessions.Add(1)
		s.logSession(c, "accept", "")
		slog.Debug("Client accepted", "fd", fd, "remote", c.remoteAddr)
	}
}

// completeHandshake reads the secret, attaches a shell on a match, and
// answers <ok> or <error>. The handshake timer is left running; the reaper
// sees the connection has advanced past New and closes the timer without
// touching the session.
func (s *Server) completeHandshake(c *Conn) {
	var buf [chunkSize]byte
	n, err := unix.Read(c.sockFD, buf[:])
	if err == unix.EAGAIN {
		s.rearm(c, c.sockFD, Readable)
		return
	}
	if err != nil || n == 0 {
		s.terminate(c.sockFD)
		return
	}

	if string(buf[:n]) != *s.secretLine.Load() {
		slog.Info("Client failed authentication", "remote", c.remoteAddr)
		unix.Write(c.sockFD, []byte(ErrorReply))
		s.logSession(c, "auth_failed", "")
		s.terminate(c.sockFD)
		return
	}
	c.setState(StateValidated)

	master, cmd, err := startShell()
	if err != nil {
		slog.Error("Failed to attach shell", "remote", c.remoteAddr, "error", err)
		s.terminate(c.sockFD)
		return
	}

	ptyFD := int(master.Fd())
	if ptyFD >= s.table.Capacity() {
		slog.Warn("Connection table full, dropping session", "pty_fd", ptyFD)
		master.Close()
		s.terminate(c.sockFD)
		return
	}

	if err := unix.SetNonblock(c.sockFD, true); err != nil {
		slog.Debug("Failed to set socket non-blocking", "fd", c.sockFD, "error", err)
	}

	c.ptyMaster = master
	c.ptyFD = ptyFD
	c.shell = cmd
	s.table.Put(ptyFD, c)

	if err := s.mainMux.Add(ptyFD, Readable); err != nil {
		slog.Error("Failed to register pty master", "fd", ptyFD, "error", err)
		s.terminate(c.sockFD)
		return
	}

	if _, err := unix.Write(c.sockFD, []byte(Proceed)); err != nil {
		slog.Debug("Failed to send go-ahead", "fd", c.sockFD, "error", err)
		s.terminate(c.sockFD)
		return
	}
	c.setState(StateEstablished)
	s.rearm(c, c.sockFD, Readable)

	s.logSession(c, "established", fmt.Sprintf("shell PID %d", cmd.Process.Pid))
	slog.Info("Session established", "remote", c.remoteAddr, "shell_pid", cmd.Process.Pid)
}

// terminate is the universal abort mechanism: idempotent teardown of both
// fds, the table entries and the record. Safe to call from workers and from
// the listener thread.
func (s *Server) terminate(fd int) {
	c := s.table.Get(fd)
	if c == nil {
		return
	}
	if !c.markTerminated() {
		return
	}

	if err := unix.Shutdown(c.sockFD, unix.SHUT_RDWR); err != nil && err != unix.ENOTCONN {
		slog.Debug("Socket shutdown failed", "fd", c.sockFD, "error", err)
	}
	if err := s.mainMux.Remove(c.sockFD); err != nil {
		slog.Debug("Failed to deregister socket", "fd", c.sockFD, "error", err)
	}
	unix.Close(c.sockFD)
	s.table.Clear(c.sockFD)

	if c.ptyFD >= 0 {
		if err := s.mainMux.Remove(c.ptyFD); err != nil {
			slog.Debug("Failed to deregister pty master", "fd", c.ptyFD, "error", err)
		}
		c.ptyMaster.Close()
		s.table.Clear(c.ptyFD)
	}

	s.sessions.Add(-1)
	s.terminated.Add(1)
	s.logSession(c, "disconnect", "")
	slog.Debug("Session terminated", "remote", c.remoteAddr)
}

func (s *Server) currentHandshakeTimeout() time.Duration {
	return time.Duration(s.handshakeTimeout.Load())
}

// watchConfig reloads the hot-reloadable handshake parameters (secret,
// handshake timeout) when the config file changes. Structural settings take
// effect on restart only.
func (s *Server) watchConfig() {
	configPath := core.GetConfigFilePath(s.cfg.ConfigPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create config file watcher", "error", err)
		return
	}
	// Watch the directory: editors using atomic renames replace the file,
	// which would silently drop a direct file watch.
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		slog.Error("Failed to watch config directory", "error", err, "path", configPath)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != configPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				s.reloadConfig(configPath)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watcher error", "error", err)
			}
		}
	}()
}

func (s *Server) reloadConfig(configPath string) {
	cfg, err := core.LoadConfig(s.cfg.ConfigPath)
	if err != nil {
		slog.Error("Config reload failed, keeping current settings", "error", err)
		return
	}

	line := cfg.Secret + "\n"
	s.secretLine.Store(&line)
	s.handshakeTimeout.Store(int64(cfg.HandshakeTimeout))
	slog.Info("Reloaded handshake settings from config", "path", configPath)

	if cfg.ListenPort != s.cfg.ListenPort || cfg.MaxClients != s.cfg.MaxClients ||
		cfg.Workers != s.cfg.Workers || cfg.TasksPerWorker != s.cfg.TasksPerWorker {
		slog.Warn("Structural config changes require a restart to take effect")
	}
}

func (s *Server) logSession(c *Conn, eventType, details string) {
	if s.database == nil {
		return
	}
	if err := s.database.LogSessionEvent(c.remoteAddr, eventType, details); err != nil {
		slog.Error("Failed to log session event", "error", err, "event", eventType)
	}
}

func formatSockaddr(sa unix.Sockaddr) string {
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return fmt.Sprintf("%d.%d.%d.%d:%d", in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3], in4.Port)
	}
	return "unknown"
}
