package storage

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type filesystemManagement interface {
	readFile(filepath string) ([]byte, error)
	writeFileSynced(filepath string, data []byte) error
}

type fileManagement struct{}

func (fs *fileManagement) readFile(path string) ([]byte, error) {
	return os.ReadFile(filepath.Clean(path))
}

// writeFileSynced replaces path atomically and fsyncs both the file and its
// directory, since power may be cut right after the next suspend.
func (fs *fileManagement) writeFileSynced(path string, data []byte) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0600); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// FileStore is a DurableStore backed by a YAML file of hex encoded values.
type FileStore struct {
	mu     sync.Mutex
	path   string
	fs     filesystemManagement
	values map[string]string
}

// OpenFileStore loads path; a missing file is an empty store, an unreadable
// one is ErrStoreCorrupted.
func OpenFileStore(path string) (*FileStore, error) {
	return openFileStore(path, new(fileManagement))
}

func openFileStore(path string, fs filesystemManagement) (*FileStore, error) {
	s := &FileStore{path: path, fs: fs, values: make(map[string]string)}
	data, err := fs.readFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if err := yaml.Unmarshal(data, &s.values); err != nil {
		return nil, errors.Wrapf(ErrStoreCorrupted, "parse %s: %v", path, err)
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	return s, nil
}

func (s *FileStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	encoded, ok := s.values[key]
	if !ok {
		return nil, false
	}
	value, err := hex.DecodeString(encoded)
	if err != nil {
		// surfaced as a length mismatch by the context decoder
		return []byte{}, true
	}
	return value, true
}

func (s *FileStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, existed := s.values[key]
	s.values[key] = hex.EncodeToString(value)
	data, err := yaml.Marshal(s.values)
	if err == nil {
		err = s.fs.writeFileSynced(s.path, data)
	}
	if err != nil {
		if existed {
			s.values[key] = previous
		} else {
			delete(s.values, key)
		}
		return errors.Wrapf(err, "write %s", s.path)
	}
	return nil
}

// FileRetained emulates the retained memory region with a file.
type FileRetained struct {
	path string
	fs   filesystemManagement
}

func NewFileRetained(path string) *FileRetained {
	return &FileRetained{path: path, fs: new(fileManagement)}
}

func (r *FileRetained) ReadRetained() ([]byte, error) {
	data, err := r.fs.readFile(r.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

func (r *FileRetained) WriteRetained(data []byte) error {
	return r.fs.writeFileSynced(r.path, data)
}

// Clear drops the region, as a power loss would.
func (r *FileRetained) Clear() error {
	err := os.Remove(filepath.Clean(r.path))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
