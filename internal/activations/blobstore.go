package activations

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrInvalidInput = errors.New("invalid input")

// BlobStore is the injected storage capability behind the ledger: get
// and set of a named blob. A missing blob is (nil, nil), not an error.
type BlobStore interface {
	Get(name string) ([]byte, error)
	Set(name string, data []byte) error
}

type MemoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Get(name string) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[name]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemoryBlobStore) Set(name string, data []byte) error {
	if s == nil || strings.TrimSpace(name) == "" {
		return ErrInvalidInput
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	s.mu.Lock()
	s.blobs[name] = stored
	s.mu.Unlock()
	return nil
}

// FileBlobStore keeps one JSON file per blob under a directory. Writes
// go through a temp file and rename so concurrent readers never observe
// a torn blob.
type FileBlobStore struct {
	dir string
}

func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidInput
	}
	return &FileBlobStore{dir: filepath.Clean(dir)}, nil
}

// Path returns the backing file for a blob name.
func (s *FileBlobStore) Path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *FileBlobStore) Get(name string) ([]byte, error) {
	if s == nil || strings.TrimSpace(name) == "" {
		return nil, ErrInvalidInput
	}
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (s *FileBlobStore) Set(name string, data []byte) error {
	if s == nil || strings.TrimSpace(name) == "" {
		return ErrInvalidInput
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	path := s.Path(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
