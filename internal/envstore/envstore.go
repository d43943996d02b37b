// Package envstore reads and writes the bot's configuration in a dotenv
// file.
package envstore

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"regexp"
	"sync"

	"github.com/joho/godotenv"
)

var keyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrInvalidKey is returned for keys that cannot appear in a dotenv file.
var ErrInvalidKey = errors.New("invalid config key")

// Store is a key-value view of a dotenv file.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a Store backed by the file at path. The file does not have to
// exist yet.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// All returns every key in the file. A missing file is empty.
func (s *Store) All() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Get returns a single value.
func (s *Store) Get(key string) (string, bool, error) {
	values, err := s.All()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// Set merges updates into the file. Keys not in updates are kept.
func (s *Store) Set(updates map[string]string) error {
	for k := range updates {
		if !keyRe.MatchString(k) {
			return fmt.Errorf("%w %q", ErrInvalidKey, k)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	maps.Copy(values, updates)
	if err := godotenv.Write(values, s.path); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}

func (s *Store) read() (map[string]string, error) {
	values, err := godotenv.Read(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	return values, nil
}
