// Package core is the project store facade. A *Project owns everything
// scoped to one open project directory: its root, key, lock and the stores
// for configuration, sessions, captures, museums and credentials. There is
// no process-wide current project; opening a second project means holding a
// second handle.
package core

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"drawerstore/internal/blob"
	"drawerstore/internal/capture"
	"drawerstore/internal/keyring"
	"drawerstore/internal/layout"
	"drawerstore/internal/museum"
	"drawerstore/internal/projectconfig"
	"drawerstore/internal/session"
	"drawerstore/internal/vault"
	"drawerstore/pkg/domain"
)

// ErrClosed is returned by operations on a closed handle.
var ErrClosed = errors.New("project handle closed")

// Project is an open project directory.
type Project struct {
	root string
	opts projectOptions

	key      *keyring.Key
	lock     *projectLock
	config   *projectconfig.Store
	sessions *session.Ledger
	museums  *museum.Registry
	vault    *vault.Vault
	blobs    blob.Store
	pipeline *capture.Pipeline

	// ops is read-held for the whole of every operation. Close takes it for
	// writing, so the key is never zeroed under a running operation.
	ops     sync.RWMutex
	mu      sync.RWMutex
	current *domain.Identity
	closed  bool
}

// CreateProject initializes a project at root and returns an open handle.
// The project key is generated here.
func CreateProject(ctx context.Context, root string, info domain.ProjectInfo, opts ...Option) (*Project, error) {
	o := defaultProjectOptions()
	for _, opt := range opts {
		opt(&o)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "create_project")
	created, err := createProject(ctx, abs, info, o)
	span.End(err)
	o.metrics.Observe(ctx, "create_project", err == nil, time.Since(start))
	if err != nil {
		o.logger.Error("create project failed", "root", abs, "error", err)
		return nil, err
	}
	o.logger.Info("project created", "root", abs, "name", created.Name)
	return open(ctx, abs, o)
}

func createProject(ctx context.Context, root string, info domain.ProjectInfo, o projectOptions) (domain.ProjectInfo, error) {
	if err := os.MkdirAll(layout.MetaDir(root), 0o755); err != nil {
		return domain.ProjectInfo{}, fmt.Errorf("creating %s: %w", layout.MetaDir(root), err)
	}
	lock := newProjectLock(layout.LockPath(root), o.lockTimeout)
	defer func() { _ = lock.close() }()
	release, err := lock.acquire(ctx)
	if err != nil {
		return domain.ProjectInfo{}, err
	}
	defer release()
	return projectconfig.New(root, o.clock).Create(info)
}

// LoadProject opens the existing project at root. The configured rules
// engine is evaluated against the loaded project; blocking violations fail
// the load with domain.RuleViolationError.
func LoadProject(ctx context.Context, root string, opts ...Option) (*Project, error) {
	o := defaultProjectOptions()
	for _, opt := range opts {
		opt(&o)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if _, err := projectconfig.New(abs, o.clock).Load(); err != nil {
		return nil, err
	}
	return open(ctx, abs, o)
}

func open(ctx context.Context, root string, o projectOptions) (p *Project, retErr error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "load_project")
	defer func() {
		span.End(retErr)
		o.metrics.Observe(ctx, "load_project", retErr == nil, time.Since(start))
	}()

	key, err := keyring.Open(root)
	if err != nil {
		return nil, err
	}
	if key.Created() {
		o.logger.Info("project key created", "path", layout.KeyPath(root))
	}
	blobs, err := o.blobs(root)
	if err != nil {
		_ = key.Close()
		return nil, fmt.Errorf("opening blob store: %w", err)
	}
	sessions := session.New(root, session.WithClock(o.clock))
	p = &Project{
		root:     root,
		opts:     o,
		key:      key,
		lock:     newProjectLock(layout.LockPath(root), o.lockTimeout),
		config:   projectconfig.New(root, o.clock),
		sessions: sessions,
		museums:  museum.New(root, museum.WithEditKeying(o.keying)),
		vault:    vault.New(root, key),
		blobs:    blobs,
	}
	p.pipeline = capture.NewPipeline(root, sessions, blobs,
		capture.WithEncoder(o.encoder),
		capture.WithClock(o.clock),
		capture.WithLogger(o.logger),
	)

	res, err := p.evaluate(ctx, o.rules)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	for _, v := range res.Violations {
		o.logger.Warn("project rule violation", "rule", v.Rule, "severity", v.Severity, "message", v.Message)
	}
	if res.HasBlocking() {
		_ = p.Close()
		return nil, domain.RuleViolationError{Result: res}
	}
	o.logger.Debug("project loaded", "root", root, "blob_driver", blobs.Driver())
	return p, nil
}

// Root returns the absolute project directory.
func (p *Project) Root() string { return p.root }

// BlobStore returns the store captures are written through.
func (p *Project) BlobStore() blob.Store { return p.blobs }

// Close waits for running operations, then releases the key and lock.
// Further calls fail with ErrClosed.
func (p *Project) Close() error {
	p.ops.Lock()
	defer p.ops.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.current = nil
	return errors.Join(p.key.Close(), p.lock.close())
}

// run instruments one operation. Mutating operations hold the project lock
// for the duration of fn.
func (p *Project) run(ctx context.Context, op string, mutating bool, fn func(ctx context.Context) error) (err error) {
	start := time.Now()
	ctx, span := p.opts.tracer.Start(ctx, op)
	defer func() {
		span.End(err)
		p.opts.metrics.Observe(ctx, op, err == nil, time.Since(start))
		if err != nil {
			p.opts.logger.Debug("project operation failed", "operation", op, "error", err)
		}
	}()
	p.ops.RLock()
	defer p.ops.RUnlock()
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if mutating {
		release, err := p.lock.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()
	}
	return fn(ctx)
}

// Info returns the project configuration.
func (p *Project) Info(ctx context.Context) (domain.ProjectInfo, error) {
	var info domain.ProjectInfo
	err := p.run(ctx, "get_project_info", false, func(context.Context) error {
		var err error
		info, err = p.config.Load()
		return err
	})
	return info, err
}

// CreateSession appends a session and creates its directory.
func (p *Project) CreateSession(ctx context.Context, in domain.NewSession) (domain.Session, error) {
	var created domain.Session
	err := p.run(ctx, "create_session", true, func(context.Context) error {
		var err error
		created, err = p.sessions.Create(in)
		return err
	})
	if err == nil {
		p.opts.logger.Info("session created", "session", created.Name, "id", created.ID)
	}
	return created, err
}

// Sessions lists the project's sessions by name.
func (p *Project) Sessions(ctx context.Context) ([]domain.Session, error) {
	var out []domain.Session
	err := p.run(ctx, "list_sessions", false, func(context.Context) error {
		var err error
		out, err = p.sessions.List()
		return err
	})
	return out, err
}

// Session returns one session by identifier.
func (p *Project) Session(ctx context.Context, id string) (domain.Session, error) {
	var out domain.Session
	err := p.run(ctx, "get_session", false, func(context.Context) error {
		var err error
		out, err = p.sessions.Get(id)
		return err
	})
	return out, err
}

// PostNewImage ingests a capture and returns the refreshed project
// configuration.
func (p *Project) PostNewImage(ctx context.Context, sessionID string, img image.Image, meta domain.CaptureMetadata) (domain.ProjectInfo, error) {
	_, info, err := p.PostCapture(ctx, sessionID, img, meta)
	return info, err
}

// PostCapture is PostNewImage that also returns the stored capture.
func (p *Project) PostCapture(ctx context.Context, sessionID string, img image.Image, meta domain.CaptureMetadata) (capture.Result, domain.ProjectInfo, error) {
	var (
		res  capture.Result
		info domain.ProjectInfo
	)
	err := p.run(ctx, "post_new_image", true, func(ctx context.Context) error {
		var err error
		if res, err = p.pipeline.Post(ctx, sessionID, img, meta); err != nil {
			return err
		}
		info, err = p.config.IncrementCaptures(1)
		return err
	})
	return res, info, err
}

// Captures reads the capture ledger.
func (p *Project) Captures(ctx context.Context) ([]domain.CaptureRecord, error) {
	var out []domain.CaptureRecord
	err := p.run(ctx, "list_captures", false, func(context.Context) error {
		var err error
		out, err = capture.ReadLedger(p.root)
		return err
	})
	return out, err
}

// CaptureMetadata reads the sidecar stored next to the image at imageKey,
// a path relative to the project root as listed in a session.
func (p *Project) CaptureMetadata(ctx context.Context, imageKey string) (domain.CaptureMetadata, error) {
	var meta domain.CaptureMetadata
	err := p.run(ctx, "get_capture_metadata", false, func(ctx context.Context) error {
		key := imageKey[:len(imageKey)-len(filepath.Ext(imageKey))] + capture.SidecarExt
		_, rc, err := p.blobs.Get(ctx, key)
		if errors.Is(err, blob.ErrNotFound) {
			return domain.NotFoundError{Entity: domain.EntityCapture, ID: imageKey}
		}
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		data, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		meta, err = capture.DecodeSidecar(data)
		return err
	})
	return meta, err
}

// Museums lists the museum registry.
func (p *Project) Museums(ctx context.Context) ([]domain.MuseumEntry, error) {
	var out []domain.MuseumEntry
	err := p.run(ctx, "get_museums", false, func(context.Context) error {
		var err error
		out, err = p.museums.List()
		return err
	})
	return out, err
}

// AddMuseum registers a museum and returns its identifier.
func (p *Project) AddMuseum(ctx context.Context, m domain.Museum) (string, error) {
	var id string
	err := p.run(ctx, "add_museum", true, func(context.Context) error {
		var err error
		id, err = p.museums.Add(m)
		return err
	})
	return id, err
}

// EditMuseum replaces original with updated and returns the identifier the
// updated record is stored under.
func (p *Project) EditMuseum(ctx context.Context, original, updated domain.Museum) (string, error) {
	var id string
	err := p.run(ctx, "edit_museum", true, func(context.Context) error {
		var err error
		id, err = p.museums.Edit(original, updated)
		return err
	})
	return id, err
}

// RemoveMuseum deletes a museum.
func (p *Project) RemoveMuseum(ctx context.Context, m domain.Museum) error {
	return p.run(ctx, "remove_museum", true, func(context.Context) error {
		return p.museums.Remove(m)
	})
}

// Users returns the decrypted user list.
func (p *Project) Users(ctx context.Context) ([]domain.User, error) {
	var out []domain.User
	err := p.run(ctx, "load_users", false, func(context.Context) error {
		var err error
		out, err = p.vault.Users()
		return err
	})
	return out, err
}

// VerifyCredentials checks a username and password. On a match the identity
// becomes the handle's current user; on a miss the current user is cleared.
func (p *Project) VerifyCredentials(ctx context.Context, username, password string) (domain.Identity, bool, error) {
	var (
		id domain.Identity
		ok bool
	)
	err := p.run(ctx, "verify_credentials", false, func(context.Context) error {
		var err error
		id, ok, err = p.vault.Verify(username, password)
		return err
	})
	if err != nil {
		return domain.Identity{}, false, err
	}
	p.mu.Lock()
	if ok && !p.closed {
		p.current = &id
	} else {
		p.current = nil
	}
	p.mu.Unlock()
	return id, ok, nil
}

// CurrentUser returns the identity of the last successful verification.
func (p *Project) CurrentUser() (domain.Identity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return domain.Identity{}, false
	}
	return *p.current, true
}

// AddUser stores a new user.
func (p *Project) AddUser(ctx context.Context, u domain.User) error {
	return p.run(ctx, "add_user", true, func(context.Context) error {
		return p.vault.Add(u)
	})
}

// RemoveUser deletes a user, reporting whether one was removed.
func (p *Project) RemoveUser(ctx context.Context, username string) (bool, error) {
	var removed bool
	err := p.run(ctx, "remove_user", true, func(context.Context) error {
		var err error
		removed, err = p.vault.Remove(username)
		return err
	})
	return removed, err
}

// ChangeUserRole sets a user's role.
func (p *Project) ChangeUserRole(ctx context.Context, username, role string) error {
	return p.run(ctx, "change_user_role", true, func(context.Context) error {
		return p.vault.ChangeRole(username, role)
	})
}

// ResetPassword replaces a user's password and role after checking the old
// password.
func (p *Project) ResetPassword(ctx context.Context, username, role, oldPassword, newPassword string) error {
	return p.run(ctx, "reset_password", true, func(context.Context) error {
		return p.vault.ResetPassword(username, role, oldPassword, newPassword)
	})
}

// CountAdmins returns the number of admin users.
func (p *Project) CountAdmins(ctx context.Context) (int, error) {
	var n int
	err := p.run(ctx, "count_admins", false, func(context.Context) error {
		var err error
		n, err = p.vault.CountAdmins()
		return err
	})
	return n, err
}

// Check evaluates rules against the project. With no rules the built-in
// DefaultRules run.
func (p *Project) Check(ctx context.Context, rules ...domain.Rule) (domain.Result, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	var res domain.Result
	err := p.run(ctx, "check_project", false, func(ctx context.Context) error {
		var err error
		res, err = p.evaluate(ctx, domain.NewRulesEngine(rules...))
		return err
	})
	return res, err
}

func (p *Project) evaluate(ctx context.Context, engine *domain.RulesEngine) (domain.Result, error) {
	if engine == nil || len(engine.Rules()) == 0 {
		return domain.Result{}, nil
	}
	info, err := p.config.Load()
	if err != nil {
		return domain.Result{}, err
	}
	sessions, err := p.sessions.List()
	if err != nil {
		return domain.Result{}, err
	}
	return engine.Evaluate(ctx, projectView{root: p.root, info: info, sessions: sessions, blobs: p.blobs})
}
