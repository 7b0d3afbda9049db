// Package domain defines the records persisted by a drawerstore project and
// the rule evaluation primitives used to validate a loaded project.
package domain

import (
	"strings"
)

// EntityType identifies the type of record stored in a project.
type EntityType string

// Supported entity type identifiers used in errors and rule violations.
const (
	// EntityProject identifies the project configuration record.
	EntityProject EntityType = "project"
	// EntitySession identifies a session ledger entry.
	EntitySession EntityType = "session"
	// EntityCapture identifies a single capture (image plus sidecar).
	EntityCapture EntityType = "capture"
	// EntityMuseum identifies a museum registry entry.
	EntityMuseum EntityType = "museum"
	// EntityUser identifies a credential vault record.
	EntityUser EntityType = "user"
)

// ProjectInfo is the flat project metadata stored in the "Project Info"
// section of the project INI file. It is immutable after creation except for
// NumCaptures, which every capture ingestion increments.
type ProjectInfo struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Authors     []string          `json:"authors"`
	Date        string            `json:"date"`
	Root        string            `json:"root"`
	NumCaptures int               `json:"num_captures"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Session is a named capture run within a project. ID is the ledger key and
// is not repeated inside the persisted record.
type Session struct {
	ID          string   `json:"-"`
	Name        string   `json:"name"`
	Date        string   `json:"date"`
	Capturer    string   `json:"capturer"`
	Museum      string   `json:"museum"`
	Collection  string   `json:"collection"`
	SessionDir  string   `json:"session_dir"`
	NumCaptures int      `json:"num_captures"`
	Captures    []string `json:"captures"`
}

// NewSession carries the caller supplied fields of a session.
type NewSession struct {
	Capturer   string `json:"capturer"`
	Museum     string `json:"museum"`
	Collection string `json:"collection"`
}

// SpeciesInfo is the taxonomic label attached to a capture.
type SpeciesInfo struct {
	Order   string `json:"order" yaml:"Order"`
	Family  string `json:"family" yaml:"Family"`
	Genus   string `json:"genus" yaml:"Genus"`
	Species string `json:"species" yaml:"Species"`
}

// Label renders the taxon as "Order Family Genus species", skipping blanks.
func (s SpeciesInfo) Label() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{s.Order, s.Family, s.Genus, s.Species} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// CaptureMetadata is the typed metadata record of one capture. Callers fill
// Species, and optionally Capturer and Museum (they default to the session's
// values). SessionName, CaptureOrdinal, Directory and Date are assigned by
// the ingestion pipeline.
type CaptureMetadata struct {
	Species        SpeciesInfo `json:"species"`
	Capturer       string      `json:"capturer"`
	Museum         string      `json:"museum"`
	SessionName    string      `json:"session_name"`
	CaptureOrdinal int         `json:"capture_ordinal"`
	Directory      string      `json:"directory"`
	Date           string      `json:"date"`
}

// Validate checks the fields required before the metadata may enter the
// ingestion pipeline: the taxon parts that name the capture files. Family is
// recorded when given but not required.
func (m CaptureMetadata) Validate() error {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"order", m.Species.Order},
		{"genus", m.Species.Genus},
		{"species", m.Species.Species},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return ValidationError{Entity: EntityCapture, Fields: missing}
	}
	return nil
}

// CaptureRecord is one denormalized row of the captures.csv ledger.
type CaptureRecord struct {
	Date      string `json:"date"`
	Session   string `json:"session"`
	Capturer  string `json:"capturer"`
	Museum    string `json:"museum"`
	Order     string `json:"order"`
	Family    string `json:"family"`
	Genus     string `json:"genus"`
	Species   string `json:"species"`
	Directory string `json:"directory"`
}

// Museum is a reference registry record. Its identifier is derived from the
// field values, see museum.ComputeID.
type Museum struct {
	Name   string `json:"name"`
	City   string `json:"city"`
	Street string `json:"street"`
	Number string `json:"number"`
}

// Validate reports the required museum fields that are empty.
func (m Museum) Validate() error {
	var missing []string
	if strings.TrimSpace(m.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(m.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(m.Street) == "" {
		missing = append(missing, "street")
	}
	if strings.TrimSpace(m.Number) == "" {
		missing = append(missing, "number")
	}
	if len(missing) > 0 {
		return ValidationError{Entity: EntityMuseum, Fields: missing}
	}
	return nil
}

// MuseumEntry pairs a registry record with its identifier.
type MuseumEntry struct {
	ID     string `json:"id"`
	Museum Museum `json:"museum"`
}

// RoleAdmin is the role counted by CountAdmins.
const RoleAdmin = "admin"

// User is one credential vault record. Password is stored as given; the vault
// encrypts the whole record list at rest.
type User struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Identity is the part of a user record that is safe to hand out after a
// successful credential check.
type Identity struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }
