package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"drawerstore/internal/blob"
	"drawerstore/internal/capture"
	"drawerstore/internal/layout"
	"drawerstore/pkg/domain"
)

const (
	// RuleCaptureCounter checks the denormalized capture counters.
	RuleCaptureCounter = "capture_counter_consistency"
	// RuleSessionDirectory checks that every session directory exists.
	RuleSessionDirectory = "session_directory_presence"
	// RuleCaptureFiles checks capture files against the session ledger.
	RuleCaptureFiles = "capture_file_presence"
)

// DefaultRules returns the built-in project checks. All of them only warn.
func DefaultRules() []domain.Rule {
	return []domain.Rule{CaptureCounterRule(), SessionDirectoryRule(), CaptureFilesRule()}
}

// CaptureCounterRule reports a project whose num_captures differs from the
// sum of its sessions, and sessions whose counter differs from the length of
// their capture list.
func CaptureCounterRule() domain.Rule { return captureCounterRule{} }

type captureCounterRule struct{}

func (captureCounterRule) Name() string { return RuleCaptureCounter }

func (captureCounterRule) Evaluate(_ context.Context, view domain.ProjectView) (domain.Result, error) {
	var res domain.Result
	total := 0
	for _, s := range view.ListSessions() {
		total += s.NumCaptures
		if len(s.Captures) != s.NumCaptures {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     RuleCaptureCounter,
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("session %s counts %d captures but lists %d", s.Name, s.NumCaptures, len(s.Captures)),
				Entity:   domain.EntitySession,
				EntityID: s.ID,
			})
		}
	}
	if info := view.Info(); info.NumCaptures != total {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     RuleCaptureCounter,
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("project counts %d captures, sessions hold %d", info.NumCaptures, total),
			Entity:   domain.EntityProject,
		})
	}
	return res, nil
}

// SessionDirectoryRule reports sessions whose directory is missing.
func SessionDirectoryRule() domain.Rule { return sessionDirectoryRule{} }

type sessionDirectoryRule struct{}

func (sessionDirectoryRule) Name() string { return RuleSessionDirectory }

func (sessionDirectoryRule) Evaluate(_ context.Context, view domain.ProjectView) (domain.Result, error) {
	var res domain.Result
	for _, s := range view.ListSessions() {
		fi, err := os.Stat(filepath.Join(view.Root(), filepath.FromSlash(s.SessionDir)))
		if err == nil && fi.IsDir() {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     RuleSessionDirectory,
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("session %s directory %s missing", s.Name, s.SessionDir),
			Entity:   domain.EntitySession,
			EntityID: s.ID,
		})
	}
	return res, nil
}

// CaptureFilesRule reports ledger captures whose image or sidecar is missing
// from the blob store, and files under captures/ that no session lists. It
// only inspects views that expose the project blob store.
func CaptureFilesRule() domain.Rule { return captureFilesRule{} }

type captureFilesRule struct{}

// blobView is a ProjectView backed by a blob store.
type blobView interface {
	domain.ProjectView
	BlobStore() blob.Store
}

func (captureFilesRule) Name() string { return RuleCaptureFiles }

func (captureFilesRule) Evaluate(ctx context.Context, view domain.ProjectView) (domain.Result, error) {
	var res domain.Result
	bv, ok := view.(blobView)
	if !ok {
		return res, nil
	}
	store := bv.BlobStore()
	warn := func(entity domain.EntityType, id, format string, args ...any) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     RuleCaptureFiles,
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf(format, args...),
			Entity:   entity,
			EntityID: id,
		})
	}

	listed := map[string]bool{}
	for _, s := range view.ListSessions() {
		for _, key := range s.Captures {
			sidecar := key[:len(key)-len(path.Ext(key))] + capture.SidecarExt
			listed[key], listed[sidecar] = true, true
			for _, k := range []string{key, sidecar} {
				if _, err := store.Head(ctx, k); err != nil {
					if !errors.Is(err, blob.ErrNotFound) {
						return domain.Result{}, fmt.Errorf("%s: %w", k, err)
					}
					warn(domain.EntitySession, s.ID, "session %s lists %s but the file is missing", s.Name, k)
				}
			}
		}
	}

	stored, err := store.List(ctx, layout.CapturesDirName+"/")
	if err != nil {
		return domain.Result{}, fmt.Errorf("listing captures: %w", err)
	}
	for _, info := range stored {
		if !listed[info.Key] {
			warn(domain.EntityCapture, info.Key, "%s is not listed by any session", info.Key)
		}
	}
	return res, nil
}

// projectView is the read-only snapshot rules evaluate against.
type projectView struct {
	root     string
	info     domain.ProjectInfo
	sessions []domain.Session
	blobs    blob.Store
}

func (v projectView) Root() string                   { return v.root }
func (v projectView) Info() domain.ProjectInfo       { return v.info }
func (v projectView) ListSessions() []domain.Session { return v.sessions }
func (v projectView) BlobStore() blob.Store          { return v.blobs }
