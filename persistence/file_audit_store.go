package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lexcodex/testforge/framework"
)

// FileAuditStore keeps one JSON file of audit events per session.
type FileAuditStore struct {
	root string
	mu   sync.RWMutex
}

// NewFileAuditStore builds a store in the provided root directory.
func NewFileAuditStore(root string) (*FileAuditStore, error) {
	if root == "" {
		return nil, errors.New("audit store root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileAuditStore{root: root}, nil
}

func (s *FileAuditStore) pathFor(sessionID string) string {
	return filepath.Join(s.root, sessionID+".audit.json")
}

// Record appends the event to its session file.
func (s *FileAuditStore) Record(ctx context.Context, event framework.AuditEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if event.SessionID == "" {
		return errors.New("session id required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.read(event.SessionID)
	if err != nil {
		return err
	}
	existing = append(existing, event)
	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.pathFor(event.SessionID), data, 0o644)
}

// History returns every event recorded for a session.
func (s *FileAuditStore) History(ctx context.Context, sessionID string) ([]framework.AuditEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(sessionID)
}

func (s *FileAuditStore) read(sessionID string) ([]framework.AuditEvent, error) {
	data, err := os.ReadFile(s.pathFor(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var events []framework.AuditEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}
