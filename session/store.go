package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Store persists session records. It abstracts away the where and how of
// record storage.
type Store interface {
	Save(record *Record) error
	Load(name string) (*Record, error)
	List() ([]string, error)
	Delete(name string) error
}

// FileStore keeps records as one JSON file per session under a base
// directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created
// on the first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// path maps a session name to its file, refusing names that would
// escape the store directory.
func (s *FileStore) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", errors.Errorf("invalid session name %q", name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// Save writes the record, replacing any session of the same name.
func (s *FileStore) Save(record *Record) (err error) {
	p, err := s.path(record.Name)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating session directory %q", s.dir)
	}

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrapf(err, "creating session file %q", p)
	}
	defer func() {
		closeErr := f.Close()
		if closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "closing session file %q", p)
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(record); err != nil {
		return errors.Wrapf(err, "encoding session %q", record.Name)
	}
	return nil
}

// Load reads the named session.
func (s *FileStore) Load(name string) (*Record, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	buf, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.Wrapf(err, "reading session %q", name)
	}
	var record Record
	if err := json.Unmarshal(buf, &record); err != nil {
		return nil, errors.Wrapf(err, "decoding session %q", name)
	}
	return &record, nil
}

// List returns the names of all saved sessions, sorted by the
// filesystem's directory order.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "listing sessions in %q", s.dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	return names, nil
}

// Delete removes the named session. Deleting a missing session is not an
// error.
func (s *FileStore) Delete(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "deleting session %q", name)
	}
	return nil
}
