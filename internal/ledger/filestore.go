package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"trialguard/internal/fingerprint"
)

// Persister handles durable storage of the ledger document and the raw
// fingerprint archive. Implementations must round-trip losslessly.
type Persister interface {
	Load() (*Ledger, error)
	Save(l *Ledger) error
	ArchiveFingerprint(hash string, fp *fingerprint.Descriptor, now time.Time) error
}

// archiveEntry is one raw fingerprint kept for admin forensics
type archiveEntry struct {
	Fingerprint *fingerprint.Descriptor `json:"fingerprint"`
	FirstSeen   time.Time               `json:"first_seen"`
	LastSeen    time.Time               `json:"last_seen"`
	SeenCount   int                     `json:"seen_count"`
}

// FileStore persists the ledger and fingerprint archive as JSON documents.
// Saves are atomic: write to a temp file in the same directory, then rename.
type FileStore struct {
	ledgerPath  string
	archivePath string
}

// NewFileStore creates a file-backed persister
func NewFileStore(ledgerPath, archivePath string) *FileStore {
	return &FileStore{ledgerPath: ledgerPath, archivePath: archivePath}
}

// Load reads the ledger document, returning a fresh ledger when none exists
func (s *FileStore) Load() (*Ledger, error) {
	data, err := os.ReadFile(s.ledgerPath)
	if os.IsNotExist(err) {
		return NewLedger(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse ledger file: %w", err)
	}
	l.normalize()
	return &l, nil
}

// Save writes the ledger document atomically
func (s *FileStore) Save(l *Ledger) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}
	return atomicWrite(s.ledgerPath, data)
}

// ArchiveFingerprint records a raw fingerprint in the archive document,
// keyed by its hash
func (s *FileStore) ArchiveFingerprint(hash string, fp *fingerprint.Descriptor, now time.Time) error {
	if hash == "" || fp == nil {
		return nil
	}

	archive := make(map[string]*archiveEntry)
	data, err := os.ReadFile(s.archivePath)
	if err == nil {
		if err := json.Unmarshal(data, &archive); err != nil {
			return fmt.Errorf("failed to parse fingerprint archive: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read fingerprint archive: %w", err)
	}

	entry, ok := archive[hash]
	if !ok {
		entry = &archiveEntry{Fingerprint: fp, FirstSeen: now}
		archive[hash] = entry
	}
	entry.Fingerprint = fp
	entry.LastSeen = now
	entry.SeenCount++

	out, err := json.MarshalIndent(archive, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal fingerprint archive: %w", err)
	}
	return atomicWrite(s.archivePath, out)
}

// atomicWrite replaces path with data via a temp file and rename so readers
// never observe a partial document
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
