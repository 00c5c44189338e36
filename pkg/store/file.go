package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// FileVersion is the current version of the state file format.
const FileVersion = 1

type fileState struct {
	Version int               `cbor:"1,keyasint"`
	Records map[string]Record `cbor:"2,keyasint"`
}

// FileStore keeps all records in one CBOR file. Every Save rewrites the
// file through a temporary file and rename.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by path. The file is created on the
// first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load returns the record for key.
func (s *FileStore) Load(key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read()
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := st.Records[key]
	return rec, ok, nil
}

// Save stores or replaces the record for key.
func (s *FileStore) Save(key string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read()
	if err != nil {
		return err
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	st.Records[key] = rec
	return s.write(st)
}

// Delete removes the record for key.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := st.Records[key]; !ok {
		return nil
	}
	delete(st.Records, key)
	return s.write(st)
}

func (s *FileStore) read() (*fileState, error) {
	st := &fileState{Version: FileVersion, Records: make(map[string]Record)}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}

	if err := cbor.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if st.Version != FileVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCorrupt, st.Version)
	}
	if st.Records == nil {
		st.Records = make(map[string]Record)
	}
	return st, nil
}

func (s *FileStore) write(st *fileState) error {
	st.Version = FileVersion

	data, err := cbor.Marshal(st)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".miio-state-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

var _ Store = (*FileStore)(nil)
