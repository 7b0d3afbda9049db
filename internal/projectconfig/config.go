// Package projectconfig creates project directories and reads and writes the
// "Project Info" section of the project INI file.
package projectconfig

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"drawerstore/internal/capture"
	"drawerstore/internal/clock"
	"drawerstore/internal/fsutil"
	"drawerstore/internal/layout"
	"drawerstore/pkg/domain"
)

// SectionName is the single INI section holding the project fields.
const SectionName = "Project Info"

// DateLayout formats the creation date when the caller leaves it empty.
const DateLayout = "2006-01-02"

const (
	keyName        = "name"
	keyDescription = "description"
	keyAuthors     = "authors"
	keyDate        = "date"
	keyRoot        = "root"
	keyNumCaptures = "num_captures"
)

var standardKeys = map[string]bool{
	keyName: true, keyDescription: true, keyAuthors: true,
	keyDate: true, keyRoot: true, keyNumCaptures: true,
}

// ErrProjectExists is returned by Create when the root already holds a
// project configuration. Creating over it would truncate the ledgers.
var ErrProjectExists = fmt.Errorf("%w: project already initialized", domain.ErrDuplicate)

// Store reads and writes the configuration of the project at one root.
type Store struct {
	root  string
	clock clock.Clock
}

// New returns the configuration store of root. A nil clock uses the wall
// clock.
func New(root string, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{root: root, clock: clk}
}

// Root returns the project directory.
func (s *Store) Root() string { return s.root }

// Create lays out a fresh project: the root and captures directories, the
// control directory, the capture ledger header, empty session and museum
// ledgers, and the INI file. Existing directories are reused.
func (s *Store) Create(info domain.ProjectInfo) (domain.ProjectInfo, error) {
	for _, dir := range []string{s.root, layout.CapturesDir(s.root), layout.MetaDir(s.root)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return domain.ProjectInfo{}, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	exists, err := fsutil.Exists(layout.ConfigPath(s.root))
	if err != nil {
		return domain.ProjectInfo{}, err
	}
	if exists {
		return domain.ProjectInfo{}, fmt.Errorf("%w: %s", ErrProjectExists, s.root)
	}

	info.Root = s.root
	info.NumCaptures = 0
	if strings.TrimSpace(info.Date) == "" {
		info.Date = s.clock.Now().Format(DateLayout)
	}
	if info.Authors == nil {
		info.Authors = []string{}
	}

	if err := capture.InitLedger(s.root); err != nil {
		return domain.ProjectInfo{}, err
	}
	if err := fsutil.WriteJSON(layout.SessionsPath(s.root), map[string]any{}); err != nil {
		return domain.ProjectInfo{}, fmt.Errorf("writing session ledger: %w", err)
	}
	if err := fsutil.WriteJSON(layout.MuseumsPath(s.root), map[string]any{}); err != nil {
		return domain.ProjectInfo{}, fmt.Errorf("writing museum registry: %w", err)
	}
	if err := s.write(info); err != nil {
		return domain.ProjectInfo{}, err
	}
	return info, nil
}

// Load reads the project fields. A root without an INI file is reported as
// domain.ErrProjectNotFound.
func (s *Store) Load() (domain.ProjectInfo, error) {
	path := layout.ConfigPath(s.root)
	exists, err := fsutil.Exists(path)
	if err != nil {
		return domain.ProjectInfo{}, err
	}
	if !exists {
		return domain.ProjectInfo{}, domain.NotFoundError{Entity: domain.EntityProject, ID: s.root}
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return domain.ProjectInfo{}, fmt.Errorf("parsing %s: %w", layout.ConfigFileName, err)
	}
	sec, err := cfg.GetSection(SectionName)
	if err != nil {
		return domain.ProjectInfo{}, fmt.Errorf("%s: %w", layout.ConfigFileName, err)
	}

	info := domain.ProjectInfo{
		Name:        sec.Key(keyName).String(),
		Description: sec.Key(keyDescription).String(),
		Authors:     splitAuthors(sec.Key(keyAuthors).String()),
		Date:        sec.Key(keyDate).String(),
		Root:        sec.Key(keyRoot).String(),
	}
	if raw := sec.Key(keyNumCaptures).String(); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return domain.ProjectInfo{}, fmt.Errorf("%s: num_captures %q: %w", layout.ConfigFileName, raw, err)
		}
		info.NumCaptures = n
	}
	for _, k := range sec.Keys() {
		if standardKeys[k.Name()] {
			continue
		}
		if info.Extra == nil {
			info.Extra = map[string]string{}
		}
		info.Extra[k.Name()] = k.String()
	}
	return info, nil
}

// IncrementCaptures adds n to num_captures and returns the updated fields.
func (s *Store) IncrementCaptures(n int) (domain.ProjectInfo, error) {
	info, err := s.Load()
	if err != nil {
		return domain.ProjectInfo{}, err
	}
	info.NumCaptures += n
	if err := s.write(info); err != nil {
		return domain.ProjectInfo{}, err
	}
	return info, nil
}

func (s *Store) write(info domain.ProjectInfo) error {
	cfg := ini.Empty()
	sec, err := cfg.NewSection(SectionName)
	if err != nil {
		return err
	}
	authors, err := joinAuthors(info.Authors)
	if err != nil {
		return fmt.Errorf("project info key %q: %w", keyAuthors, err)
	}
	pairs := [][2]string{
		{keyName, info.Name},
		{keyDescription, info.Description},
		{keyAuthors, authors},
		{keyDate, info.Date},
		{keyRoot, info.Root},
		{keyNumCaptures, strconv.Itoa(info.NumCaptures)},
	}
	extras := make([]string, 0, len(info.Extra))
	for k := range info.Extra {
		if !standardKeys[k] {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)
	for _, k := range extras {
		pairs = append(pairs, [2]string{k, info.Extra[k]})
	}
	for _, p := range pairs {
		if _, err := sec.NewKey(p[0], p[1]); err != nil {
			return fmt.Errorf("project info key %q: %w", p[0], err)
		}
	}

	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return fmt.Errorf("encoding %s: %w", layout.ConfigFileName, err)
	}
	if err := fsutil.WriteFile(layout.ConfigPath(s.root), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", layout.ConfigFileName, err)
	}
	return nil
}

// joinAuthors encodes authors as a single CSV record, so names holding commas
// or edge whitespace survive a rewrite.
func joinAuthors(authors []string) (string, error) {
	if len(authors) == 0 {
		return "", nil
	}
	var buf strings.Builder
	w := csv.NewWriter(&buf)
	if err := w.Write(authors); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	out := strings.TrimSuffix(buf.String(), "\n")
	if out == "" {
		return "", nil
	}
	// ini rewrites a value whose last byte is a quote, a backslash or a
	// blank. An empty last field keeps the record intact.
	switch out[len(out)-1] {
	case '"', '\'', '\\', ' ', '\t':
		out += ","
	}
	return out, nil
}

// splitAuthors decodes joinAuthors output. Values written as a plain ", "
// separated list decode the same way. Empty fields are dropped.
func splitAuthors(raw string) []string {
	r := csv.NewReader(strings.NewReader(raw))
	r.TrimLeadingSpace = true
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err != nil {
		record = strings.Split(raw, ",")
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
	}
	out := []string{}
	for _, a := range record {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// IsNotFound reports whether err means the root holds no project.
func IsNotFound(err error) bool {
	var nf domain.NotFoundError
	return errors.As(err, &nf) && nf.Entity == domain.EntityProject
}
