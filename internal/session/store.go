// Package session persists the ledger and chat transcript across restarts.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/esnunes/renderpilot/internal/chat"
	"github.com/esnunes/renderpilot/internal/db"
	"github.com/esnunes/renderpilot/internal/models"
)

const (
	RevisionsKey = "renderpilot-revisions"
	MessagesKey  = "renderpilot-messages"
	LoadedKey    = "renderpilot-has-loaded"
)

// KV is the durable key-value storage the store writes to. *db.Queries satisfies it.
type KV interface {
	Get(key string) (string, error)
	Put(key, value string) error
	Delete(key string) error
	UpdatedAt(key string) (time.Time, error)
}

type Store struct {
	kv     KV
	logger *slog.Logger
}

func NewStore(kv KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger}
}

// State is what Load hands back to the orchestrator.
type State struct {
	Revisions []models.Revision
	Messages  []models.Message
	// FirstRun is true until MarkLoaded has been called once.
	FirstRun bool
	// StaleLoading is true when a placeholder from an interrupted request was dropped.
	StaleLoading bool
}

// Load never fails: unreadable or corrupt blobs are logged and replaced by empty
// defaults so the session keeps working in memory.
func (s *Store) Load() State {
	var st State

	if err := s.read(RevisionsKey, &st.Revisions); err != nil {
		s.logger.Error("Failed to load revisions", "error", err)
		st.Revisions = nil
	}

	var msgs []models.Message
	if err := s.read(MessagesKey, &msgs); err != nil {
		s.logger.Error("Failed to load messages", "error", err)
		msgs = nil
	}
	st.Messages, st.StaleLoading = chat.Reconcile(msgs)
	if st.StaleLoading {
		s.logger.Info("Stale loading state detected on reload, placeholder cleared")
	}

	_, err := s.kv.Get(LoadedKey)
	switch {
	case errors.Is(err, db.ErrNotFound):
		st.FirstRun = true
	case err != nil:
		s.logger.Error("Failed to read first-run flag", "error", err)
	}
	return st
}

// SavedAt reports when the ledger was last written. ok is false before the
// first save.
func (s *Store) SavedAt() (t time.Time, ok bool) {
	t, err := s.kv.UpdatedAt(RevisionsKey)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			s.logger.Warn("Failed to read save time", "error", err)
		}
		return time.Time{}, false
	}
	return t, true
}

func (s *Store) read(key string, v any) error {
	raw, err := s.kv.Get(key)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// Save writes both blobs. It is a fire-and-forget side effect: failures are logged
// and returned for callers that care, but in-memory state stays authoritative.
func (s *Store) Save(revs []models.Revision, msgs []models.Message) error {
	errRevs := s.write(RevisionsKey, nonNil(revs))
	errMsgs := s.write(MessagesKey, nonNil(msgs))
	err := errors.Join(errRevs, errMsgs)
	if err != nil {
		s.logger.Error("Failed to save session state", "error", err)
	}
	return err
}

func (s *Store) write(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.kv.Put(key, string(data))
}

// MarkLoaded records that first-run seeding has happened.
func (s *Store) MarkLoaded() {
	if err := s.kv.Put(LoadedKey, "true"); err != nil {
		s.logger.Error("Failed to record first-run flag", "error", err)
	}
}

// Clear removes the persisted ledger and transcript. The first-run flag survives.
func (s *Store) Clear() {
	for _, key := range []string{RevisionsKey, MessagesKey} {
		if err := s.kv.Delete(key); err != nil {
			s.logger.Error("Failed to clear session key", "key", key, "error", err)
		}
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
