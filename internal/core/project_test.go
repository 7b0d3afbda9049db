package core

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drawerstore/internal/blob"
	"drawerstore/internal/clock"
	"drawerstore/internal/keyring"
	"drawerstore/internal/layout"
	"drawerstore/internal/museum"
	"drawerstore/internal/projectconfig"
	"drawerstore/pkg/domain"
)

func fooInfo() domain.ProjectInfo {
	return domain.ProjectInfo{Name: "foo", Authors: []string{"baz"}, Description: "bar", Date: "2020-01-01"}
}

func newProject(t *testing.T, opts ...Option) *Project {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	opts = append([]Option{WithClock(clk)}, opts...)
	p, err := CreateProject(context.Background(), filepath.Join(t.TempDir(), "proj"), fooInfo(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func frame() image.Image {
	img := image.NewGray(image.Rect(0, 0, 6, 4))
	img.SetGray(2, 2, color.Gray{Y: 200})
	return img
}

func carabus() domain.CaptureMetadata {
	return domain.CaptureMetadata{Species: domain.SpeciesInfo{
		Order: "Coleoptera", Family: "Carabidae", Genus: "Carabus", Species: "violaceus",
	}}
}

func TestCreateThenLoadReturnsSameConfiguration(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	created, err := p.Info(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	loaded, err := LoadProject(ctx, p.Root())
	require.NoError(t, err)
	t.Cleanup(func() { _ = loaded.Close() })
	info, err := loaded.Info(ctx)
	require.NoError(t, err)

	assert.Equal(t, created, info)
	assert.Equal(t, "foo", info.Name)
	assert.Equal(t, "bar", info.Description)
	assert.Equal(t, []string{"baz"}, info.Authors)
	assert.Equal(t, "2020-01-01", info.Date)
	assert.Equal(t, 0, info.NumCaptures)

	_, err = os.Stat(layout.KeyPath(p.Root()))
	assert.NoError(t, err, "key must be created with the project")
}

func TestCreateProjectTwiceFails(t *testing.T) {
	p := newProject(t)
	_, err := CreateProject(context.Background(), p.Root(), fooInfo())
	assert.ErrorIs(t, err, projectconfig.ErrProjectExists)
}

func TestLoadMissingProject(t *testing.T) {
	_, err := LoadProject(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	var nf domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, domain.EntityProject, nf.Entity)
}

func TestSequentialSessionNames(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	first, err := p.CreateSession(ctx, domain.NewSession{Capturer: "ana", Museum: "NHM"})
	require.NoError(t, err)
	second, err := p.CreateSession(ctx, domain.NewSession{Capturer: "ana", Museum: "NHM"})
	require.NoError(t, err)
	assert.Equal(t, "session-001", first.Name)
	assert.Equal(t, "session-002", second.Name)
	assert.NotEqual(t, first.ID, second.ID)

	got, err := p.Session(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	all, err := p.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "session-001", all[0].Name)
}

func TestPostNewImage(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	s, err := p.CreateSession(ctx, domain.NewSession{Capturer: "ana", Museum: "NHM"})
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		info, err := p.PostNewImage(ctx, s.ID, frame(), carabus())
		require.NoError(t, err)
		assert.Equal(t, i, info.NumCaptures)

		got, err := p.Session(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, i, got.NumCaptures)
		require.Len(t, got.Captures, i)
		assert.Equal(t, fmt.Sprintf("captures/session-001/session-001_cap-%04d_order-coleoptera_species-carabus.violaceus.jpg", i), got.Captures[i-1])
	}

	first := filepath.Join(p.Root(), "captures", "session-001", "session-001_cap-0001_order-coleoptera_species-carabus.violaceus.jpg")
	_, err = os.Stat(first)
	require.NoError(t, err)

	rows, err := p.Captures(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "ana", rows[0].Capturer)
	assert.Equal(t, "NHM", rows[0].Museum)
	assert.Equal(t, "captures/session-001/session-001_cap-0001_order-coleoptera_species-carabus.violaceus.jpg", rows[0].Directory)

	meta, err := p.CaptureMetadata(ctx, rows[1].Directory)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.CaptureOrdinal)
	assert.Equal(t, "Carabidae", meta.Species.Family)

	_, err = p.CaptureMetadata(ctx, "captures/session-001/missing.jpg")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostNewImageErrors(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	_, err := p.PostNewImage(ctx, "no-such-session", frame(), carabus())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	s, err := p.CreateSession(ctx, domain.NewSession{})
	require.NoError(t, err)
	_, err = p.PostNewImage(ctx, s.ID, frame(), domain.CaptureMetadata{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	info, err := p.Info(ctx)
	require.NoError(t, err)
	assert.Zero(t, info.NumCaptures)
}

func TestMemoryBlobDriverKeepsLedgersOnDisk(t *testing.T) {
	ctx := context.Background()
	p := newProject(t, WithBlobStore(func(string) (blob.Store, error) { return blob.NewMemory(), nil }))
	s, err := p.CreateSession(ctx, domain.NewSession{})
	require.NoError(t, err)
	_, err = p.PostNewImage(ctx, s.ID, frame(), carabus())
	require.NoError(t, err)

	infos, err := p.BlobStore().List(ctx, "captures/")
	require.NoError(t, err)
	assert.Len(t, infos, 2, "image and sidecar")
	rows, err := p.Captures(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestMuseumScenarios(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	nhm := domain.Museum{Name: "NHM", City: "London", Street: "Kings Lane", Number: "1"}

	id, err := p.AddMuseum(ctx, nhm)
	require.NoError(t, err)
	assert.Equal(t, museum.ComputeID(nhm), id)

	_, err = p.AddMuseum(ctx, domain.Museum{Name: "NHM", City: "London", Street: "Kings Lane", Number: "1"})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	_, err = p.AddMuseum(ctx, domain.Museum{Name: "NHM", Street: "Kings Lane", Number: "1"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	list, err := p.Museums(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	updated := nhm
	updated.Street = "Cromwell Road"
	newID, err := p.EditMuseum(ctx, nhm, updated)
	require.NoError(t, err)
	assert.Equal(t, id, newID, "default keying keeps the original id")

	require.NoError(t, p.RemoveMuseum(ctx, nhm))
	assert.ErrorIs(t, p.RemoveMuseum(ctx, nhm), domain.ErrNotFound)
}

func TestMuseumEditKeyingOption(t *testing.T) {
	ctx := context.Background()
	p := newProject(t, WithMuseumEditKeying(museum.KeyByUpdated))
	nhm := domain.Museum{Name: "NHM", City: "London", Street: "Kings Lane", Number: "1"}
	_, err := p.AddMuseum(ctx, nhm)
	require.NoError(t, err)
	updated := nhm
	updated.Number = "5"
	id, err := p.EditMuseum(ctx, nhm, updated)
	require.NoError(t, err)
	assert.Equal(t, museum.ComputeID(updated), id)
}

func TestCredentialScenarios(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)

	users, err := p.Users(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	require.NoError(t, p.AddUser(ctx, domain.User{Username: "alice", Password: "pw", Role: domain.RoleAdmin}))
	require.NoError(t, p.AddUser(ctx, domain.User{Username: "bob", Password: "pw2", Role: "capturer"}))
	assert.ErrorIs(t, p.AddUser(ctx, domain.User{Username: "bob"}), domain.ErrDuplicate)

	_, ok := p.CurrentUser()
	assert.False(t, ok)
	id, ok, err := p.VerifyCredentials(ctx, "bob", "pw2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Identity{Username: "bob", Role: "capturer"}, id)
	current, ok := p.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, id, current)

	_, ok, err = p.VerifyCredentials(ctx, "bob", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok = p.CurrentUser()
	assert.False(t, ok)

	require.NoError(t, p.ChangeUserRole(ctx, "bob", domain.RoleAdmin))
	n, err := p.CountAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.ErrorIs(t, p.ChangeUserRole(ctx, "ghost", "x"), domain.ErrNotFound)
	require.NoError(t, p.ResetPassword(ctx, "alice", "viewer", "pw", "new"))
	_, ok, err = p.VerifyCredentials(ctx, "alice", "new")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := p.RemoveUser(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, removed)
	removed, err = p.RemoveUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, removed)

	users, err = p.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Username)
}

func TestReplacedKeySurfacesDecryptError(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	require.NoError(t, p.AddUser(ctx, domain.User{Username: "alice", Password: "pw"}))
	root := p.Root()
	require.NoError(t, p.Close())

	require.NoError(t, os.Remove(layout.KeyPath(root)))
	reopened, err := LoadProject(ctx, root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	_, err = reopened.Users(ctx)
	assert.ErrorIs(t, err, keyring.ErrDecrypt)
	assert.ErrorIs(t, err, domain.ErrCrypto)
}

type gateRule struct{ entered, release chan struct{} }

func (gateRule) Name() string { return "gate" }

func (r gateRule) Evaluate(context.Context, domain.ProjectView) (domain.Result, error) {
	close(r.entered)
	<-r.release
	return domain.Result{}, nil
}

func TestCloseWaitsForRunningOperation(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	gate := gateRule{entered: make(chan struct{}), release: make(chan struct{})}
	checked := make(chan error, 1)
	go func() {
		_, err := p.Check(ctx, gate)
		checked <- err
	}()
	<-gate.entered

	closed := make(chan error, 1)
	go func() { closed <- p.Close() }()
	select {
	case err := <-closed:
		t.Fatalf("close returned %v while an operation was running", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(gate.release)
	require.NoError(t, <-checked)
	require.NoError(t, <-closed)

	_, err := p.Users(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseDuringConcurrentUserWrites(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	root := p.Root()

	const writers = 12
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- p.AddUser(ctx, domain.User{Username: fmt.Sprintf("user%02d", i), Password: "pw"})
		}(i)
	}
	require.NoError(t, p.Close())
	wg.Wait()
	close(errs)
	added := 0
	for err := range errs {
		if err == nil {
			added++
			continue
		}
		require.ErrorIs(t, err, ErrClosed)
	}

	reopened, err := LoadProject(ctx, root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	users, err := reopened.Users(ctx)
	require.NoError(t, err)
	assert.Len(t, users, added)
}

func TestClosedHandle(t *testing.T) {
	p := newProject(t)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	_, err := p.Info(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

type blockingRule struct{}

func (blockingRule) Name() string { return "always_block" }

func (blockingRule) Evaluate(context.Context, domain.ProjectView) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "always_block", Severity: domain.SeverityBlock, Message: "nope"}}}, nil
}

func TestLoadEvaluatesRules(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	root := p.Root()
	require.NoError(t, p.Close())

	_, err := LoadProject(ctx, root, WithRulesEngine(domain.NewRulesEngine(blockingRule{})))
	var rv domain.RuleViolationError
	require.ErrorAs(t, err, &rv)
	assert.True(t, rv.Result.HasBlocking())

	ok, err := LoadProject(ctx, root, WithRulesEngine(domain.NewRulesEngine(DefaultRules()...)))
	require.NoError(t, err)
	require.NoError(t, ok.Close())

	again, err := LoadProject(ctx, root, WithRulesEngine(nil))
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestCheckReportsDrift(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	s, err := p.CreateSession(ctx, domain.NewSession{})
	require.NoError(t, err)
	_, err = p.PostNewImage(ctx, s.ID, frame(), carabus())
	require.NoError(t, err)

	res, err := p.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Violations)

	require.NoError(t, os.RemoveAll(filepath.Join(p.Root(), "captures", s.Name)))
	_, err = projectconfig.New(p.Root(), nil).IncrementCaptures(4)
	require.NoError(t, err)

	res, err = p.Check(ctx)
	require.NoError(t, err)
	rules := map[string]bool{}
	for _, v := range res.Violations {
		rules[v.Rule] = true
		assert.Equal(t, domain.SeverityWarn, v.Severity)
	}
	assert.True(t, rules[RuleSessionDirectory])
	assert.True(t, rules[RuleCaptureCounter])
	assert.True(t, rules[RuleCaptureFiles])
	assert.False(t, res.HasBlocking())
}

func TestCheckReportsMissingAndStrayCaptureFiles(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	s, err := p.CreateSession(ctx, domain.NewSession{})
	require.NoError(t, err)
	first, _, err := p.PostCapture(ctx, s.ID, frame(), carabus())
	require.NoError(t, err)
	_, err = p.PostNewImage(ctx, s.ID, frame(), carabus())
	require.NoError(t, err)

	res, err := p.Check(ctx, CaptureFilesRule())
	require.NoError(t, err)
	assert.Empty(t, res.Violations)

	require.NoError(t, os.Remove(filepath.Join(p.Root(), filepath.FromSlash(first.Image.Key))))
	stray := filepath.Join(p.Root(), "captures", s.Name, "stray.jpg")
	require.NoError(t, os.WriteFile(stray, []byte("x"), 0o644))

	res, err = p.Check(ctx, CaptureFilesRule())
	require.NoError(t, err)
	require.Len(t, res.Violations, 2)
	missing, orphan := res.Violations[0], res.Violations[1]
	assert.Equal(t, RuleCaptureFiles, missing.Rule)
	assert.Equal(t, domain.EntitySession, missing.Entity)
	assert.Equal(t, s.ID, missing.EntityID)
	assert.Contains(t, missing.Message, first.Image.Key)
	assert.Equal(t, domain.EntityCapture, orphan.Entity)
	assert.Equal(t, "captures/"+s.Name+"/stray.jpg", orphan.EntityID)
	assert.Equal(t, domain.SeverityWarn, orphan.Severity)
}

func TestCaptureFilesRuleWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	p := newProject(t, WithBlobStore(func(string) (blob.Store, error) { return store, nil }))
	s, err := p.CreateSession(ctx, domain.NewSession{})
	require.NoError(t, err)
	res, _, err := p.PostCapture(ctx, s.ID, frame(), carabus())
	require.NoError(t, err)

	check, err := p.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, check.Violations)

	_, err = store.Put(ctx, "captures/"+s.Name+"/extra.yml", strings.NewReader("x"), blob.PutOptions{})
	require.NoError(t, err)
	check, err = p.Check(ctx, CaptureFilesRule())
	require.NoError(t, err)
	require.Len(t, check.Violations, 1)
	assert.NotEqual(t, res.Image.Key, check.Violations[0].EntityID)
}

func TestConcurrentCapturesAreSerialized(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	s, err := p.CreateSession(ctx, domain.NewSession{})
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.PostNewImage(ctx, s.ID, frame(), carabus())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := p.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, got.NumCaptures)
	assert.Len(t, got.Captures, workers)
	info, err := p.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, workers, info.NumCaptures)
}

func TestTwoHandlesShareTheLock(t *testing.T) {
	ctx := context.Background()
	a := newProject(t)
	b, err := LoadProject(ctx, a.Root())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	var wg sync.WaitGroup
	for _, p := range []*Project{a, b, a, b} {
		wg.Add(1)
		go func(p *Project) {
			defer wg.Done()
			_, err := p.CreateSession(ctx, domain.NewSession{})
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	sessions, err := a.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 4)
	for i, s := range sessions {
		assert.Equal(t, fmt.Sprintf("session-%03d", i+1), s.Name)
	}
}

func TestLockTimeout(t *testing.T) {
	ctx := context.Background()
	p := newProject(t, WithLockTimeout(50*time.Millisecond))
	holder := newProjectLock(layout.LockPath(p.Root()), time.Second)
	release, err := holder.acquire(ctx)
	require.NoError(t, err)
	defer func() { release(); _ = holder.close() }()

	_, err = p.CreateSession(ctx, domain.NewSession{})
	assert.ErrorIs(t, err, ErrLocked)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.CreateSession(cancelled, domain.NewSession{})
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, ErrLocked), "got %v", err)
}
