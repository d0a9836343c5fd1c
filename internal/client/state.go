package client

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"licensekit/internal/config"
)

// Local statuses in addition to the wire statuses reported by the authority
const (
	StatusUnknown     = "unknown"
	StatusDeactivated = "deactivated"
)

const stateKeyInfo = "licensekit entitlement state v1"

// PersistedState is the durable entitlement record of one installation
type PersistedState struct {
	LicenseKey     string    `json:"license_key"`
	Status         string    `json:"status"`
	LastCheck      time.Time `json:"last_check"`
	LastError      string    `json:"last_error,omitempty"`
	LastStatusCode int       `json:"last_status_code,omitempty"`
}

// StateStore persists the entitlement record across restarts.
// Load returns nil, nil when no record exists.
type StateStore interface {
	Load(ctx context.Context) (*PersistedState, error)
	Save(ctx context.Context, state *PersistedState) error
}

type signedState struct {
	State     json.RawMessage `json:"state"`
	Signature string          `json:"signature"`
}

// FileStateStore keeps the record in a signed JSON file
type FileStateStore struct {
	mu     sync.Mutex
	path   string
	key    []byte
	logger *slog.Logger
}

// NewFileStateStore creates a store at path. The signing key is derived from
// secret, or from the application name when secret is empty.
func NewFileStateStore(path, secret string, logger *slog.Logger) (*FileStateStore, error) {
	if path == "" {
		return nil, errors.New("state file path is required")
	}
	if secret == "" {
		secret = config.AppName
	}
	if logger == nil {
		logger = slog.Default()
	}

	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(stateKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive state key: %w", err)
	}

	return &FileStateStore{
		path:   path,
		key:    key,
		logger: logger.With(slog.String("component", "state_file")),
	}, nil
}

// Load reads the record. A missing, corrupt or tampered file yields no record.
func (s *FileStateStore) Load(ctx context.Context) (*PersistedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var envelope signedState
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.WarnContext(ctx, "state file is corrupt, ignoring",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	if !hmac.Equal([]byte(envelope.Signature), []byte(s.sign(envelope.State))) {
		s.logger.ErrorContext(ctx, "state file signature mismatch - possible tampering",
			slog.String("path", s.path),
		)
		return nil, nil
	}

	var state PersistedState
	if err := json.Unmarshal(envelope.State, &state); err != nil {
		s.logger.WarnContext(ctx, "state file payload is corrupt, ignoring",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	return &state, nil
}

// Save writes the record atomically with owner-only permissions
func (s *FileStateStore) Save(ctx context.Context, state *PersistedState) error {
	if state == nil {
		return errors.New("state is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	data, err := json.Marshal(signedState{State: payload, Signature: s.sign(payload)})
	if err != nil {
		return fmt.Errorf("failed to marshal state file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".entitlement-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set state file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	s.logger.DebugContext(ctx, "state file saved",
		slog.String("path", s.path),
		slog.String("status", state.Status),
		slog.Int("size_bytes", len(data)),
	)
	return nil
}

func (s *FileStateStore) sign(payload []byte) string {
	h := hmac.New(sha256.New, s.key)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryStateStore keeps the record in memory. It is used when no state file
// is configured and in tests.
type MemoryStateStore struct {
	mu    sync.Mutex
	state *PersistedState
}

// NewMemoryStateStore creates an empty in-memory store
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

func (s *MemoryStateStore) Load(_ context.Context) (*PersistedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	cp := *s.state
	return &cp, nil
}

func (s *MemoryStateStore) Save(_ context.Context, state *PersistedState) error {
	if state == nil {
		return errors.New("state is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.state = &cp
	return nil
}
