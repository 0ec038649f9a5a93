package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"mpct-controller/internal/device"
)

// FileStore implements Store with a single JSON file holding the device list.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. The file is created on the
// first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) LoadDevices() ([]map[string]any, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("device state %s: %w", s.path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read device state: %w", err)
	}
	var devs []map[string]any
	if err := json.Unmarshal(data, &devs); err != nil {
		return nil, fmt.Errorf("parse device state %s: %w", s.path, err)
	}
	return devs, nil
}

// SaveDevices writes to a temporary file in the same directory and renames
// it over the old one, so a crash never leaves a truncated list.
func (s *FileStore) SaveDevices(devs []*device.Device) error {
	if devs == nil {
		devs = []*device.Device{}
	}
	data, err := json.MarshalIndent(devs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode device state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write device state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync device state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close device state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace device state: %w", err)
	}
	return nil
}
