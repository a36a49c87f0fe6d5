package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var ErrNotFound = errors.New("identity: not found")

// Store keeps identities as raw private key files under one directory.
type Store struct {
	Dir string
}

func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.Dir, strings.TrimSpace(name)+".id")
}

func (s *Store) Load(name string) (*Local, error) {
	raw, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("identity: load %q: %w", name, err)
	}
	l, err := FromPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("identity: load %q: %w", name, err)
	}
	if err := l.Check(); err != nil {
		return nil, fmt.Errorf("identity: load %q: %w", name, err)
	}
	return l, nil
}

func (s *Store) Save(name string, l *Local) error {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return fmt.Errorf("identity: save %q: %w", name, err)
	}
	if err := os.WriteFile(s.path(name), l.PrivateKey(), 0o600); err != nil {
		return fmt.Errorf("identity: save %q: %w", name, err)
	}
	return nil
}

// LoadOrCreate returns the stored identity, generating and saving one
// when none exists yet.
func (s *Store) LoadOrCreate(name string) (*Local, bool, error) {
	l, err := s.Load(name)
	if err == nil {
		return l, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	l, err = Generate(nil)
	if err != nil {
		return nil, false, err
	}
	if err := s.Save(name, l); err != nil {
		return nil, false, err
	}
	return l, true, nil
}
