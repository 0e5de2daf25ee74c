package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const ledgerVersion = 1

// Entry records one launched process. PID plus CreateTime identify the process
// instance; Name is what the kernel reported when the ledger was written.
type Entry struct {
	Target     string    `yaml:"target"`
	PID        int       `yaml:"pid"`
	CreateTime int64     `yaml:"create_time"`
	Name       string    `yaml:"name"`
	Command    string    `yaml:"command"`
	LogFile    string    `yaml:"log_file"`
	StartedAt  time.Time `yaml:"started_at"`
}

type Ledger struct {
	Version   int       `yaml:"version"`
	WrittenAt time.Time `yaml:"written_at"`
	Entries   []Entry   `yaml:"entries"`
}

// Find returns the entry for target.
func (l Ledger) Find(target string) (Entry, bool) {
	for _, e := range l.Entries {
		if e.Target == target {
			return e, true
		}
	}
	return Entry{}, false
}

// Load reads the ledger at path. A missing file returns ok=false and no error.
func Load(path string) (led Ledger, ok bool, err error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Ledger{}, false, nil
	}
	if err != nil {
		return Ledger{}, false, err
	}
	if err := yaml.Unmarshal(b, &led); err != nil {
		return Ledger{}, false, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	if led.Version != ledgerVersion {
		return Ledger{}, false, fmt.Errorf("ledger %s: unsupported version %d", path, led.Version)
	}
	return led, true, nil
}

// Save writes the ledger atomically so a power cut never leaves a torn file.
func Save(path string, led Ledger) error {
	led.Version = ledgerVersion
	if led.WrittenAt.IsZero() {
		led.WrittenAt = time.Now().UTC()
	}
	b, err := yaml.Marshal(&led)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Remove deletes the ledger; a missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
