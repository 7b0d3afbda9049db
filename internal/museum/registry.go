// Package museum is the deduplicated museum reference registry. Entries are
// content addressed: the identifier is derived from the field values, so two
// records with the same fields collapse to one key.
package museum

import (
	"crypto/md5" //nolint:gosec // G501: identifier derivation, not security
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/google/uuid"

	"drawerstore/internal/fsutil"
	"drawerstore/internal/layout"
	"drawerstore/pkg/domain"
)

// EditKeying selects the identifier an edited entry is stored under.
type EditKeying int

const (
	// KeyByOriginal stores the edited record under the identifier of the
	// record it replaces, so references to the museum id survive an edit.
	// Deduplication is not enforced on edit under this keying: the updated
	// content is not checked against other entries, so two identifiers can
	// end up holding the same museum.
	KeyByOriginal EditKeying = iota
	// KeyByUpdated re-keys the edited record on its new content.
	KeyByUpdated
)

// ParseEditKeying maps "original" and "updated" to their EditKeying. The
// empty string selects KeyByOriginal.
func ParseEditKeying(s string) (EditKeying, error) {
	switch s {
	case "", "original":
		return KeyByOriginal, nil
	case "updated":
		return KeyByUpdated, nil
	default:
		return 0, fmt.Errorf("unknown museum edit keying %q", s)
	}
}

func (k EditKeying) String() string {
	if k == KeyByUpdated {
		return "updated"
	}
	return "original"
}

// ErrRegistryMissing is returned when the registry file has not been
// created.
var ErrRegistryMissing = errors.New("museum registry missing")

// ComputeID derives the identifier of m: the MD5 digest of the field values
// concatenated in the order name, city, street, number, rendered as a UUID.
func ComputeID(m domain.Museum) string {
	sum := md5.Sum([]byte(m.Name + m.City + m.Street + m.Number)) //nolint:gosec // G401
	return uuid.UUID(sum).String()
}

// Registry reads and writes the museum registry of one project. Every call
// re-reads the file; the project handle serializes mutations.
type Registry struct {
	path   string
	keying EditKeying
}

// Option configures a Registry.
type Option func(*Registry)

// WithEditKeying selects how Edit keys the replacement record.
func WithEditKeying(k EditKeying) Option {
	return func(r *Registry) { r.keying = k }
}

// New returns the registry of the project at root.
func New(root string, opts ...Option) *Registry {
	r := &Registry{path: layout.MuseumsPath(root)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Keying reports the configured edit keying.
func (r *Registry) Keying() EditKeying { return r.keying }

// List returns all entries sorted by name, then identifier.
func (r *Registry) List() ([]domain.MuseumEntry, error) {
	entries, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.MuseumEntry, 0, len(entries))
	for id, m := range entries {
		out = append(out, domain.MuseumEntry{ID: id, Museum: m})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Museum.Name != out[j].Museum.Name {
			return out[i].Museum.Name < out[j].Museum.Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get returns the record stored under id.
func (r *Registry) Get(id string) (domain.Museum, error) {
	entries, err := r.load()
	if err != nil {
		return domain.Museum{}, err
	}
	m, ok := entries[id]
	if !ok {
		return domain.Museum{}, domain.NotFoundError{Entity: domain.EntityMuseum, ID: id}
	}
	return m, nil
}

// Add validates m and inserts it under its computed identifier.
func (r *Registry) Add(m domain.Museum) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	entries, err := r.load()
	if err != nil {
		return "", err
	}
	id := ComputeID(m)
	if _, exists := entries[id]; exists {
		return "", domain.DuplicateError{Entity: domain.EntityMuseum, ID: id}
	}
	entries[id] = m
	if err := r.save(entries); err != nil {
		return "", err
	}
	return id, nil
}

// Edit replaces original with updated and returns the identifier the
// updated record is stored under.
func (r *Registry) Edit(original, updated domain.Museum) (string, error) {
	if err := updated.Validate(); err != nil {
		return "", err
	}
	entries, err := r.load()
	if err != nil {
		return "", err
	}
	oldID := ComputeID(original)
	if _, ok := entries[oldID]; !ok {
		return "", domain.NotFoundError{Entity: domain.EntityMuseum, ID: oldID}
	}
	newID := oldID
	if r.keying == KeyByUpdated {
		newID = ComputeID(updated)
		if _, taken := entries[newID]; taken && newID != oldID {
			return "", domain.DuplicateError{Entity: domain.EntityMuseum, ID: newID}
		}
	}
	delete(entries, oldID)
	entries[newID] = updated
	if err := r.save(entries); err != nil {
		return "", err
	}
	return newID, nil
}

// Remove deletes the entry whose identifier is computed from m.
func (r *Registry) Remove(m domain.Museum) error {
	entries, err := r.load()
	if err != nil {
		return err
	}
	id := ComputeID(m)
	if _, ok := entries[id]; !ok {
		return domain.NotFoundError{Entity: domain.EntityMuseum, ID: id}
	}
	delete(entries, id)
	return r.save(entries)
}

func (r *Registry) load() (map[string]domain.Museum, error) {
	entries := map[string]domain.Museum{}
	if err := fsutil.ReadJSON(r.path, &entries); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrRegistryMissing
		}
		return nil, err
	}
	if entries == nil {
		entries = map[string]domain.Museum{}
	}
	return entries, nil
}

func (r *Registry) save(entries map[string]domain.Museum) error {
	if err := fsutil.WriteJSON(r.path, entries); err != nil {
		return fmt.Errorf("writing museum registry: %w", err)
	}
	return nil
}
