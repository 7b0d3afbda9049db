// Package session owns the session ledger: a JSON object mapping random
// session identifiers to session records. Every operation re-reads the file
// so callers never act on a stale copy.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"drawerstore/internal/clock"
	"drawerstore/internal/fsutil"
	"drawerstore/internal/layout"
	"drawerstore/pkg/domain"
)

// NamePrefix starts every session name. The suffix is a zero-padded ordinal.
const NamePrefix = "session-"

// DateLayout stamps session creation times.
const DateLayout = time.RFC3339

var (
	// ErrLedgerMissing is returned when the session ledger file is absent.
	ErrLedgerMissing = errors.New("session ledger missing")
	// ErrSessionDirExists is returned when the directory of a new session is
	// already on disk.
	ErrSessionDirExists = errors.New("session directory already exists")
)

// Ledger reads and writes the session ledger of one project.
type Ledger struct {
	root  string
	clock clock.Clock
	newID func() string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the clock used to stamp new sessions.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithIDGenerator replaces the UUIDv4 generator.
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) { l.newID = fn }
}

// New returns the ledger of the project at root.
func New(root string, opts ...Option) *Ledger {
	l := &Ledger{root: root, clock: clock.Real(), newID: uuid.NewString}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name formats the session name for ordinal n.
func Name(n int) string { return fmt.Sprintf("%s%03d", NamePrefix, n) }

// Create appends a new session. Names are assigned sequentially and never
// reused: the next ordinal is one past both the session count and the
// highest ordinal already present.
func (l *Ledger) Create(in domain.NewSession) (domain.Session, error) {
	entries, err := l.load()
	if err != nil {
		return domain.Session{}, err
	}
	next := len(entries)
	for _, s := range entries {
		if n, ok := ordinal(s.Name); ok && n > next {
			next = n
		}
	}
	next++

	name := Name(next)
	s := domain.Session{
		ID:          l.newID(),
		Name:        name,
		Date:        l.clock.Now().Format(DateLayout),
		Capturer:    in.Capturer,
		Museum:      in.Museum,
		Collection:  in.Collection,
		SessionDir:  layout.SessionDir(name),
		NumCaptures: 0,
		Captures:    []string{},
	}
	if _, taken := entries[s.ID]; taken {
		return domain.Session{}, domain.DuplicateError{Entity: domain.EntitySession, ID: s.ID}
	}
	entries[s.ID] = s
	if err := l.save(entries); err != nil {
		return domain.Session{}, err
	}
	if err := os.Mkdir(filepath.Join(l.root, filepath.FromSlash(s.SessionDir)), 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return domain.Session{}, fmt.Errorf("%w: %s", ErrSessionDirExists, s.SessionDir)
		}
		return domain.Session{}, fmt.Errorf("creating session directory: %w", err)
	}
	return s, nil
}

// Get returns the session stored under id.
func (l *Ledger) Get(id string) (domain.Session, error) {
	entries, err := l.load()
	if err != nil {
		return domain.Session{}, err
	}
	s, ok := entries[id]
	if !ok {
		return domain.Session{}, domain.NotFoundError{Entity: domain.EntitySession, ID: id}
	}
	return s, nil
}

// List returns every session sorted by name.
func (l *Ledger) List() ([]domain.Session, error) {
	entries, err := l.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Session, 0, len(entries))
	for _, s := range entries {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Update applies fn to a freshly read copy of session id and persists the
// ledger when fn succeeds.
func (l *Ledger) Update(id string, fn func(*domain.Session) error) (domain.Session, error) {
	entries, err := l.load()
	if err != nil {
		return domain.Session{}, err
	}
	s, ok := entries[id]
	if !ok {
		return domain.Session{}, domain.NotFoundError{Entity: domain.EntitySession, ID: id}
	}
	if err := fn(&s); err != nil {
		return domain.Session{}, err
	}
	s.ID = id
	entries[id] = s
	if err := l.save(entries); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

func (l *Ledger) load() (map[string]domain.Session, error) {
	entries := map[string]domain.Session{}
	if err := fsutil.ReadJSON(layout.SessionsPath(l.root), &entries); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrLedgerMissing
		}
		return nil, err
	}
	if entries == nil {
		entries = map[string]domain.Session{}
	}
	for id, s := range entries {
		s.ID = id
		if s.Captures == nil {
			s.Captures = []string{}
		}
		entries[id] = s
	}
	return entries, nil
}

func (l *Ledger) save(entries map[string]domain.Session) error {
	if err := fsutil.WriteJSON(layout.SessionsPath(l.root), entries); err != nil {
		return fmt.Errorf("writing session ledger: %w", err)
	}
	return nil
}

func ordinal(name string) (int, bool) {
	if !strings.HasPrefix(name, NamePrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, NamePrefix))
	if err != nil {
		return 0, false
	}
	return n, true
}
