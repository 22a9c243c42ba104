package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
	"github.com/zalando/go-keyring"
)

const serviceName = "mcp-collection"

// lockTimeout is the maximum time to wait for the file lock. If exceeded,
// operations proceed without locking (fail-open): a stale persisted token is
// re-fetched on first use, so brief races are harmless.
const lockTimeout = 100 * time.Millisecond

// Store persists tokens per token-endpoint origin, preferring the system
// keyring with a locked plaintext-file fallback.
type Store struct {
	useKeyring  bool
	fallbackDir string
}

// NewStore creates a token store. The keyring is probed once; when it is
// unavailable or disabled, tokens go to tokens.json under fallbackDir.
func NewStore(fallbackDir string, disableKeyring bool) *Store {
	if disableKeyring || os.Getenv("MCP_NO_KEYRING") != "" {
		return &Store{useKeyring: false, fallbackDir: fallbackDir}
	}

	testKey := serviceName + "::test"
	if err := keyring.Set(serviceName, testKey, "test"); err == nil {
		_ = keyring.Delete(serviceName, testKey) // Best-effort cleanup
		return &Store{useKeyring: true, fallbackDir: fallbackDir}
	}
	return &Store{useKeyring: false, fallbackDir: fallbackDir}
}

// UsingKeyring returns true if the store is using the system keyring.
func (s *Store) UsingKeyring() bool {
	return s.useKeyring
}

// key returns the keyring key for an origin.
func key(origin string) string {
	return fmt.Sprintf("%s::%s", serviceName, origin)
}

// Load retrieves the token stored for the given origin.
func (s *Store) Load(origin string) (*Token, error) {
	if s.useKeyring {
		return s.loadFromKeyring(origin)
	}
	return s.loadFromFile(origin)
}

// Save stores a token for the given origin.
func (s *Store) Save(origin string, tok *Token) error {
	if s.useKeyring {
		return s.saveToKeyring(origin, tok)
	}
	return s.saveToFile(origin, tok)
}

// Delete removes the token for the given origin.
func (s *Store) Delete(origin string) error {
	if s.useKeyring {
		return keyring.Delete(serviceName, key(origin))
	}
	return s.deleteFile(origin)
}

// Keyring methods

func (s *Store) loadFromKeyring(origin string) (*Token, error) {
	data, err := keyring.Get(serviceName, key(origin))
	if err != nil {
		return nil, fmt.Errorf("token not found: %w", err)
	}

	var tok Token
	if err := json.Unmarshal([]byte(data), &tok); err != nil {
		return nil, fmt.Errorf("invalid stored token: %w", err)
	}
	return &tok, nil
}

func (s *Store) saveToKeyring(origin string, tok *Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return keyring.Set(serviceName, key(origin), string(data))
}

// File fallback methods

func (s *Store) tokensPath() string {
	return filepath.Join(s.fallbackDir, "tokens.json")
}

func (s *Store) lockPath() string {
	return filepath.Join(s.fallbackDir, ".lock")
}

// withLock runs fn holding an exclusive file lock when it can be acquired
// within lockTimeout, and without it otherwise (fail-open).
func (s *Store) withLock(fn func() error) error {
	if err := os.MkdirAll(s.fallbackDir, 0700); err != nil {
		return err
	}

	fl := flock.New(s.lockPath())
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil && ctx.Err() == nil {
		return err
	}
	if locked {
		defer func() { _ = fl.Unlock() }()
	}

	return fn()
}

func (s *Store) loadAllFromFile() (map[string]*Token, error) {
	data, err := os.ReadFile(s.tokensPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Token), nil
		}
		return nil, err
	}

	var all map[string]*Token
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (s *Store) saveAllToFile(all map[string]*Token) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write with randomized temp file name
	tmpFile, err := os.CreateTemp(s.fallbackDir, "tokens-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Unix: rename atomically replaces the destination.
	// Windows: rename fails when destination exists; remove and retry.
	destPath := s.tokensPath()
	if err := os.Rename(tmpPath, destPath); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(destPath)
			return os.Rename(tmpPath, destPath)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *Store) loadFromFile(origin string) (*Token, error) {
	var tok *Token
	err := s.withLock(func() error {
		all, err := s.loadAllFromFile()
		if err != nil {
			return err
		}
		t, ok := all[origin]
		if !ok {
			return fmt.Errorf("token not found for %s", origin)
		}
		tok = t
		return nil
	})
	return tok, err
}

func (s *Store) saveToFile(origin string, tok *Token) error {
	return s.withLock(func() error {
		all, err := s.loadAllFromFile()
		if err != nil {
			return err
		}
		all[origin] = tok
		return s.saveAllToFile(all)
	})
}

func (s *Store) deleteFile(origin string) error {
	return s.withLock(func() error {
		all, err := s.loadAllFromFile()
		if err != nil {
			return err
		}
		delete(all, origin)
		return s.saveAllToFile(all)
	})
}
