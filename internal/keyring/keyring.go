// Package keyring stores the rembash shared secret in the OS credential
// store. The protocol authenticates every client with a single secret per
// deployment, so the common case is exactly one stored item; a per-server
// entry can override it when an operator runs servers with different
// secrets.
package keyring

import (
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

const service = "rembash"

// defaultKey is the item under which the deployment-wide shared secret
// lives. Per-server overrides are keyed by the server address itself, which
// never collides with this name (addresses always contain a dot or colon).
const defaultKey = "shared-secret"

var (
	ring     keyring.Keyring
	ringOnce sync.Once
	ringErr  error
)

func open() (keyring.Keyring, error) {
	ringOnce.Do(func() {
		ring, ringErr = keyring.Open(keyring.Config{
			ServiceName: service,
			// Native credential stores only; no file backend, so the secret
			// never lands on disk.
			AllowedBackends: []keyring.BackendType{
				keyring.SecretServiceBackend,
				keyring.KeychainBackend,
				keyring.WinCredBackend,
				keyring.PassBackend,
			},
		})
	})
	return ring, ringErr
}

func itemKey(addr string) string {
	if addr == "" {
		return defaultKey
	}
	return addr
}

// Store saves the shared secret. With an empty addr it becomes the
// deployment-wide default; otherwise it applies only to that server.
func Store(addr, secret string) error {
	kr, err := open()
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}
	return kr.Set(keyring.Item{
		Key:  itemKey(addr),
		Data: []byte(secret),
	})
}

// Lookup resolves the secret to present to addr: a per-server entry wins,
// then the deployment-wide default. Returns empty when neither exists, so
// callers can fall through to an interactive prompt.
func Lookup(addr string) (string, error) {
	kr, err := open()
	if err != nil {
		return "", fmt.Errorf("failed to open keyring: %w", err)
	}

	for _, key := range []string{itemKey(addr), defaultKey} {
		item, err := kr.Get(key)
		if err == keyring.ErrKeyNotFound {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to retrieve secret: %w", err)
		}
		return string(item.Data), nil
	}
	return "", nil
}

// Forget removes the stored secret for addr, or the deployment-wide default
// when addr is empty.
func Forget(addr string) error {
	kr, err := open()
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	key := itemKey(addr)
	err = kr.Remove(key)
	if err == keyring.ErrKeyNotFound {
		if key == defaultKey {
			return fmt.Errorf("no shared secret stored")
		}
		return fmt.Errorf("no secret stored for '%s'", addr)
	}
	return err
}
