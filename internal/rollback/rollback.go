// Package rollback implements the Rollback Manager: an
// append-only log of reversible side effects the Recovery Engine can undo.
package rollback

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/model"
)

// inlineThreshold is the size at or below which a backed-up file's original bytes
// are kept in memory rather than copied to a sidecar.
const inlineThreshold = 64 * 1024

// defaultRetention is how long entries survive Cleanup before their sidecars
// are reclaimed.
const defaultRetention = 72 * time.Hour

// Manager owns the rollback log for one recovery session.
type Manager struct {
	mu        sync.Mutex
	backupDir string
	retention time.Duration
	entries   []*model.RollbackEntry
	log       log.Logger
}

// New creates a Manager backed by backupDir for sidecar files.
func New(backupDir string, logger log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("rollback: creating backup dir: %w", err)
	}
	return &Manager{backupDir: backupDir, retention: defaultRetention, log: logger}, nil
}

// BackupFile snapshots path's current content before a ModifyFile/DeleteFile
// action is applied, storing it inline or in a timestamped sidecar.
func (m *Manager) BackupFile(path string, kind model.RollbackKind) (*model.RollbackEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("rollback: reading %q: %w", path, err)
	}

	entry := &model.RollbackEntry{
		Kind:        kind,
		Path:        path,
		CreatedAt:   time.Now(),
		Reversible:  true,
		CanRollback: true,
	}

	if err == nil { // file existed; len(data) may be zero
		if len(data) <= inlineThreshold {
			entry.OriginalBytes = data
		} else {
			sidecar, sidecarErr := m.writeSidecar(data)
			if sidecarErr != nil {
				return nil, sidecarErr
			}
			entry.SidecarPath = sidecar
		}
	}

	m.append(entry)
	return entry, nil
}

// RecordCreate logs that path was newly created, so rollback can delete it.
func (m *Manager) RecordCreate(path string) *model.RollbackEntry {
	entry := &model.RollbackEntry{
		Kind:        model.RollbackFileCreate,
		Path:        path,
		CreatedAt:   time.Now(),
		Reversible:  true,
		CanRollback: true,
	}
	m.append(entry)
	return entry
}

// RecordMkdir logs that a directory was newly created.
func (m *Manager) RecordMkdir(path string) *model.RollbackEntry {
	entry := &model.RollbackEntry{
		Kind:        model.RollbackDirCreate,
		Path:        path,
		CreatedAt:   time.Now(),
		Reversible:  true,
		CanRollback: true,
	}
	m.append(entry)
	return entry
}

func (m *Manager) append(e *model.RollbackEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func (m *Manager) writeSidecar(data []byte) (string, error) {
	name := fmt.Sprintf("backup_%d_%d", time.Now().Unix(), len(m.entries))
	path := filepath.Join(m.backupDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("rollback: writing sidecar: %w", err)
	}
	return path, nil
}

// Entries returns a snapshot of the current log.
func (m *Manager) Entries() []*model.RollbackEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.RollbackEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Rollback reverses the entry at index i. CanRollback is set to false after
// the attempt regardless of outcome, so repeats are no-ops.
func (m *Manager) Rollback(i int) error {
	m.mu.Lock()
	if i < 0 || i >= len(m.entries) {
		m.mu.Unlock()
		return fmt.Errorf("rollback: index %d out of range", i)
	}
	entry := m.entries[i]
	m.mu.Unlock()

	if !entry.CanRollback {
		return nil
	}
	defer func() { entry.CanRollback = false }()

	switch entry.Kind {
	case model.RollbackFileCreate:
		if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("rollback: removing created file %q: %w", entry.Path, err)
		}
		return nil
	case model.RollbackDirCreate:
		if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("rollback: removing created dir %q: %w", entry.Path, err)
		}
		return nil
	case model.RollbackFileModify, model.RollbackFileDelete:
		return m.restore(entry)
	default:
		return fmt.Errorf("rollback: unknown entry kind %v", entry.Kind)
	}
}

func (m *Manager) restore(entry *model.RollbackEntry) error {
	if entry.SidecarPath != "" {
		data, err := os.ReadFile(entry.SidecarPath)
		if err != nil {
			return fmt.Errorf("rollback: reading sidecar %q: %w", entry.SidecarPath, err)
		}
		return os.WriteFile(entry.Path, data, 0o644)
	}
	if entry.OriginalBytes != nil {
		return os.WriteFile(entry.Path, entry.OriginalBytes, 0o644)
	}
	// The file did not exist before the action; restoring means deleting it.
	if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rollback: removing %q to restore absent state: %w", entry.Path, err)
	}
	return nil
}

// RollbackLast reverses up to n entries, newest first.
func (m *Manager) RollbackLast(n int) error {
	m.mu.Lock()
	total := len(m.entries)
	m.mu.Unlock()

	for i := total - 1; i >= 0 && n > 0; i-- {
		if err := m.Rollback(i); err != nil {
			return err
		}
		n--
	}
	return nil
}

// Cleanup drops entries older than the retention window and deletes their
// sidecars.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	cutoff := time.Now().Add(-m.retention)
	kept := m.entries[:0:0]
	var toDelete []string
	for _, e := range m.entries {
		if e.CreatedAt.Before(cutoff) {
			if e.SidecarPath != "" {
				toDelete = append(toDelete, e.SidecarPath)
			}
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	m.mu.Unlock()

	for _, path := range toDelete {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("rollback: removing stale sidecar %q: %w", path, err)
		}
	}
	return nil
}
