package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/celerix-dev/assessment-bridge/pkg/schema"
)

// Persistence handles the disk I/O for the MemStore. The whole collection
// lives in one JSON array file.
type Persistence struct {
	Path string
	mu   sync.Mutex // Protects concurrent writes to the filesystem
}

// NewPersistence initializes a persistence handler for the file at path.
func NewPersistence(path string) (*Persistence, error) {
	// Ensure the data directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &Persistence{Path: path}, nil
}

// Save writes the full collection atomically.
func (p *Persistence) Save(records []schema.Assessment) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if records == nil {
		records = []schema.Assessment{}
	}

	// 1. Convert records to JSON bytes
	bytes, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	// 2. Write to a temporary file in the same directory
	tmp, err := os.CreateTemp(filepath.Dir(p.Path), filepath.Base(p.Path)+".*.tmp")
	if err != nil {
		return err
	}
	tempPath := tmp.Name()
	if _, err := tmp.Write(bytes); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}

	// 3. Atomic rename: readers see either the old file or the new one, never a partial write.
	if err := os.Rename(tempPath, p.Path); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}

// Load returns the records found in the store file. A missing file yields an
// empty collection. An undecodable file is moved aside to <path>.corrupt-<unix>
// and Load returns an empty collection together with ErrCorruptSnapshot, so the
// caller can log it and continue. A file that cannot be read, or a corrupt one
// that cannot be moved aside, is a plain error: starting empty would let the
// next Save replace records nobody has looked at.
func (p *Persistence) Load() ([]schema.Assessment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	records, err := p.read()
	if !errors.Is(err, ErrCorruptSnapshot) {
		return records, err
	}

	aside := fmt.Sprintf("%s.corrupt-%d", p.Path, time.Now().Unix())
	if renameErr := os.Rename(p.Path, aside); renameErr != nil {
		return nil, fmt.Errorf("quarantine %s: %w (after %v)", p.Path, renameErr, err)
	}
	return []schema.Assessment{}, fmt.Errorf("%w (moved to %q)", err, aside)
}

// Peek decodes the store file like Load but never touches it. A corrupt file
// is reported with ErrCorruptSnapshot and left where it is.
func (p *Persistence) Peek() ([]schema.Assessment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.read()
}

func (p *Persistence) read() ([]schema.Assessment, error) {
	content, err := os.ReadFile(p.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []schema.Assessment{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", p.Path, err)
	}

	var records []schema.Assessment
	if err := json.Unmarshal(content, &records); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrCorruptSnapshot, p.Path, err)
	}
	if records == nil {
		records = []schema.Assessment{}
	}
	return records, nil
}
