// Package credentials stores and resolves the session credentials sent to
// the remote API.
package credentials

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/term"
)

type Kind string

const (
	KindToken  Kind = "token"
	KindCookie Kind = "cookie"
)

var (
	ErrUnknownKind = errors.New("unknown credential kind")
	ErrNotFound    = errors.New("no stored credential")
	ErrEmptyValue  = errors.New("empty credential")
)

func (k Kind) Valid() bool {
	return k == KindToken || k == KindCookie
}

// Store keeps credentials in credentials.json with owner-only permissions.
type Store struct {
	dir string
}

type entry struct {
	Value string `json:"value"`
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Path() string {
	return filepath.Join(s.dir, "credentials.json")
}

func (s *Store) load() (map[Kind]entry, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[Kind]entry), nil
		}
		return nil, err
	}

	entries := make(map[Kind]entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse credentials.json: %w", err)
	}
	return entries, nil
}

func (s *Store) save(entries map[Kind]entry) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials.json: %w", err)
	}
	return nil
}

func (s *Store) Set(kind Kind, value string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ErrEmptyValue
	}
	entries, err := s.load()
	if err != nil {
		return err
	}
	entries[kind] = entry{Value: value}
	return s.save(entries)
}

// Get returns "" without error when nothing is stored for kind.
func (s *Store) Get(kind Kind) (string, error) {
	entries, err := s.load()
	if err != nil {
		return "", err
	}
	return entries[kind].Value, nil
}

func (s *Store) Delete(kind Kind) error {
	entries, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := entries[kind]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, kind)
	}
	delete(entries, kind)
	return s.save(entries)
}

// List returns the stored kinds in name order.
func (s *Store) List() ([]Kind, error) {
	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	kinds := make([]Kind, 0, len(entries))
	for k := range entries {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds, nil
}

// MaskKey returns a masked version of the value for display
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// Resolve picks a credential using the priority order:
// 1. Explicit value from a command-line flag
// 2. Value stored by "moescape login"
// 3. Configured value (config file or MOESCAPE_ environment variable)
// It returns the value and a description of where it came from; both are
// empty when no source has one.
func Resolve(explicit string, kind Kind, store *Store, configured string) (string, string) {
	if explicit != "" {
		return explicit, "command-line flag"
	}
	if store != nil {
		if v, err := store.Get(kind); err == nil && v != "" {
			return v, "stored credential (" + store.Path() + ")"
		}
	}
	if configured != "" {
		return configured, "configuration"
	}
	return "", ""
}

// Prompt reads a secret from in. On a terminal the input is not echoed.
func Prompt(in io.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprintf(out, "%s: ", label)

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ErrEmptyValue
	}
	return line, nil
}
