// Package client implements the terminal side of a rembash session: it
// performs the handshake, places the local terminal in raw mode, and relays
// opaque bytes between the terminal and the server until either side closes.
package client

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/term"

	"go.rembash.dev/rembash/internal/server"
)

// Run connects to addr, authenticates with secret, and relays the local
// terminal to the remote shell. It returns when the server closes the
// connection (shell exit) or local stdin reaches EOF.
func Run(addr, secret string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	// The reader stays attached to the socket after the handshake so no
	// buffered shell output is lost.
	reader := bufio.NewReader(conn)

	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read challenge: %w", err)
	}
	if line != server.Challenge {
		return fmt.Errorf("unexpected challenge from server: %q", line)
	}

	if _, err := conn.Write([]byte(secret + "\n")); err != nil {
		return fmt.Errorf("failed to send secret: %w", err)
	}

	line, err = reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read handshake reply: %w", err)
	}
	switch line {
	case server.Proceed:
	case server.ErrorReply:
		return fmt.Errorf("server rejected the secret")
	default:
		return fmt.Errorf("unexpected handshake reply: %q", line)
	}

	// Raw mode so keystrokes reach the remote shell unmodified; the remote
	// PTY owns echo and line discipline.
	stdinFD := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFD) {
		oldState, err := term.MakeRaw(stdinFD)
		if err != nil {
			return fmt.Errorf("failed to set terminal raw mode: %w", err)
		}
		defer term.Restore(stdinFD, oldState)
	}

	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(conn, os.Stdin)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(os.Stdout, reader)
		errCh <- err
	}()

	// First side to finish ends the session; the deferred restore and close
	// tear down the rest.
	if err := <-errCh; err != nil {
		return fmt.Errorf("session ended: %w", err)
	}
	return nil
}
