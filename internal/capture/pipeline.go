// Package capture ingests specimen captures: it names, encodes and stores the
// image and its YAML sidecar, records the capture in the session ledger and
// appends a row to the denormalized captures.csv ledger.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"drawerstore/internal/blob"
	"drawerstore/internal/clock"
	"drawerstore/pkg/domain"
)

// DateLayout stamps captures.
const DateLayout = time.RFC3339

var (
	// ErrSessionDirMissing is returned when a session's directory is not on
	// disk.
	ErrSessionDirMissing = errors.New("session directory missing")
	// ErrImageWrite wraps failures to encode or store the image.
	ErrImageWrite = errors.New("image write failed")
)

// SessionUpdater is the part of the session ledger the pipeline needs.
// *session.Ledger satisfies it.
type SessionUpdater interface {
	Update(id string, fn func(*domain.Session) error) (domain.Session, error)
}

// Logger is the subset of *slog.Logger the pipeline writes to.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Result describes one ingested capture.
type Result struct {
	Session  domain.Session         `json:"session"`
	Metadata domain.CaptureMetadata `json:"metadata"`
	Image    blob.Info              `json:"image"`
	Sidecar  blob.Info              `json:"sidecar"`
	Record   domain.CaptureRecord   `json:"record"`
}

// Pipeline ingests captures into one project. It does no locking; the
// project handle serializes calls.
type Pipeline struct {
	root     string
	sessions SessionUpdater
	blobs    blob.Store
	encoder  Encoder
	clock    clock.Clock
	logger   Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEncoder replaces the default JPEG encoder.
func WithEncoder(e Encoder) Option { return func(p *Pipeline) { p.encoder = e } }

// WithClock sets the clock used to stamp captures.
func WithClock(c clock.Clock) Option { return func(p *Pipeline) { p.clock = c } }

// WithLogger sets the pipeline logger.
func WithLogger(l Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline returns a pipeline writing under root through blobs.
func NewPipeline(root string, sessions SessionUpdater, blobs blob.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		root:     root,
		sessions: sessions,
		blobs:    blobs,
		encoder:  JPEGEncoder{Quality: DefaultJPEGQuality},
		clock:    clock.Real(),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Post ingests img into session sessionID.
//
// The session ledger is written before the image. A crash between the two
// leaves a ledger entry naming a file that does not exist.
func (p *Pipeline) Post(ctx context.Context, sessionID string, img image.Image, meta domain.CaptureMetadata) (Result, error) {
	if err := meta.Validate(); err != nil {
		return Result{}, err
	}
	if img == nil || img.Bounds().Empty() {
		return Result{}, domain.ValidationError{Entity: domain.EntityCapture, Fields: []string{"image"}}
	}
	var encoded bytes.Buffer
	if err := p.encoder.Encode(&encoded, img); err != nil {
		return Result{}, fmt.Errorf("%w: encoding: %v", ErrImageWrite, err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	now := p.clock.Now().Format(DateLayout)
	var stem string
	sess, err := p.sessions.Update(sessionID, func(s *domain.Session) error {
		dir := filepath.Join(p.root, filepath.FromSlash(s.SessionDir))
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			return fmt.Errorf("%w: %s", ErrSessionDirMissing, s.SessionDir)
		}
		s.NumCaptures++
		stem = FileStem(s.Name, s.NumCaptures, meta.Species.Order, meta.Species.Genus, meta.Species.Species)
		s.Captures = append(s.Captures, s.SessionDir+"/"+stem+ImageExt)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	meta.SessionName = sess.Name
	meta.CaptureOrdinal = sess.NumCaptures
	meta.Directory = sess.SessionDir
	meta.Date = now
	if meta.Capturer == "" {
		meta.Capturer = sess.Capturer
	}
	if meta.Museum == "" {
		meta.Museum = sess.Museum
	}

	imageKey := sess.SessionDir + "/" + stem + ImageExt
	imageInfo, err := p.blobs.Put(ctx, imageKey, &encoded, blob.PutOptions{ContentType: "image/jpeg"})
	if err != nil {
		p.logger.Error("capture image write failed", "session", sess.Name, "key", imageKey, "error", err)
		return Result{}, fmt.Errorf("%w: %s: %v", ErrImageWrite, imageKey, err)
	}

	sidecar, err := EncodeSidecar(meta)
	if err != nil {
		return Result{}, err
	}
	sidecarKey := sess.SessionDir + "/" + stem + SidecarExt
	sidecarInfo, err := p.blobs.Put(ctx, sidecarKey, bytes.NewReader(sidecar), blob.PutOptions{ContentType: "application/yaml"})
	if err != nil {
		return Result{}, fmt.Errorf("writing sidecar %s: %w", sidecarKey, err)
	}

	rec := domain.CaptureRecord{
		Date:      now,
		Session:   sess.Name,
		Capturer:  meta.Capturer,
		Museum:    meta.Museum,
		Order:     meta.Species.Order,
		Family:    meta.Species.Family,
		Genus:     meta.Species.Genus,
		Species:   meta.Species.Species,
		Directory: imageKey,
	}
	if err := AppendLedger(p.root, rec); err != nil {
		return Result{}, err
	}
	p.logger.Info("capture stored", "session", sess.Name, "ordinal", sess.NumCaptures, "image", imageKey, "etag", imageInfo.ETag)
	return Result{Session: sess, Metadata: meta, Image: imageInfo, Sidecar: sidecarInfo, Record: rec}, nil
}
