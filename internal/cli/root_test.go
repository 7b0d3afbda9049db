package cli

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t    *testing.T
	root string
	env  map[string]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{t: t, root: filepath.Join(t.TempDir(), "beetles"), env: map[string]string{}}
}

// run executes the CLI against the harness project and returns stdout.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := newRootCommand(&RootOptions{Getenv: func(k string) string { return h.env[k] }})
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append([]string{"--root", h.root}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// data runs args with --format json, requires success and returns the data
// payload.
func (h *harness) data(args ...string) any {
	h.t.Helper()
	out, err := h.run(append(args, "--format", "json")...)
	require.NoError(h.t, err, out)
	var resp CLIResponse
	require.NoError(h.t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(h.t, "ok", resp.Status)
	return resp.Data
}

func (h *harness) fails(code string, exit int, args ...string) {
	h.t.Helper()
	out, err := h.run(append(args, "--format", "json")...)
	require.Error(h.t, err)
	assert.Equal(h.t, exit, GetExitCode(err), out)
	var resp CLIResponse
	require.NoError(h.t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(h.t, "error", resp.Status)
	require.NotNil(h.t, resp.Error)
	assert.Equal(h.t, code, resp.Error.Code, resp.Error.Message)
}

func writePNG(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for x := range 16 {
		for y := range 12 {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 20), B: 90, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "drawer.png")
	fh, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(fh, img))
	require.NoError(t, fh.Close())
	return path
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "drawerstore", cmd.Use)

	for _, path := range [][]string{
		{"project", "create"}, {"project", "info"}, {"project", "check"},
		{"session", "create"}, {"session", "list"}, {"session", "show"},
		{"capture", "add"}, {"capture", "list"}, {"capture", "show"},
		{"museum", "add"}, {"museum", "list"}, {"museum", "edit"}, {"museum", "remove"},
		{"user", "add"}, {"user", "list"}, {"user", "remove"}, {"user", "role"},
		{"user", "passwd"}, {"user", "verify"}, {"user", "admins"},
		{"catalog", "rebuild"}, {"catalog", "search"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	rootFlag := cmd.PersistentFlags().Lookup("root")
	require.NotNil(t, rootFlag)
	assert.Equal(t, "C", rootFlag.Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("project", "info", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestBadConfiguration(t *testing.T) {
	h := newHarness(t)
	h.env["DRAWERSTORE_BLOB_DRIVER"] = "s3"
	h.fails(ErrCodeGeneric, ExitCommandError, "project", "info")
}

func TestMissingProject(t *testing.T) {
	h := newHarness(t)
	h.fails(ErrCodeNotFound, ExitFailure, "project", "info")
}

func TestProjectCreateTwice(t *testing.T) {
	h := newHarness(t)
	h.data("project", "create", "--name", "Beetles")
	h.fails(ErrCodeDuplicate, ExitFailure, "project", "create", "--name", "Beetles")
}

func TestCaptureWorkflow(t *testing.T) {
	h := newHarness(t)
	info := h.data("project", "create", "--name", "Beetles", "--author", "Ana", "--author", "Ben", "--date", "2024-05-01").(map[string]any)
	assert.Equal(t, "Beetles", info["name"])
	assert.Equal(t, []any{"Ana", "Ben"}, info["authors"])

	sess := h.data("session", "create", "--capturer", "Ana", "--museum", "NHM", "--collection", "Carabidae").(map[string]any)
	assert.Equal(t, "session-001", sess["name"])
	id, _ := sess["id"].(string)
	require.NotEmpty(t, id)

	img := writePNG(t)
	res := h.data("capture", "add", id, img,
		"--order", "Coleoptera", "--family", "Carabidae", "--genus", "Carabus", "--species", "violaceus").(map[string]any)
	assert.EqualValues(t, 1, res["project_num_captures"])
	imageKey := res["image"].(map[string]any)["key"].(string)
	assert.Equal(t, "captures/session-001/session-001_cap-0001_order-coleoptera_species-carabus.violaceus.jpg", imageKey)
	assert.FileExists(t, filepath.Join(h.root, filepath.FromSlash(imageKey)))

	records := h.data("capture", "list").([]any)
	require.Len(t, records, 1)
	assert.Equal(t, "NHM", records[0].(map[string]any)["museum"])

	meta := h.data("capture", "show", imageKey).(map[string]any)
	assert.Equal(t, "session-001", meta["session_name"])
	assert.Equal(t, "Ana", meta["capturer"])

	shown := h.data("session", "show", id).(map[string]any)
	assert.Equal(t, []any{imageKey}, shown["captures"])

	found := h.data("catalog", "search", "--rebuild", "--genus", "carabus").([]any)
	require.Len(t, found, 1)
	assert.Empty(t, h.data("catalog", "search", "--genus", "Cicindela"))

	rebuilt := h.data("catalog", "rebuild").(map[string]any)
	assert.EqualValues(t, 1, rebuilt["captures"])

	check := h.data("project", "check").(map[string]any)
	assert.Nil(t, check["violations"])

	out, err := h.run("project", "info")
	require.NoError(t, err)
	assert.Contains(t, out, "Beetles")
	assert.Contains(t, out, "Ana, Ben")
}

func TestCaptureRejectsMissingTaxon(t *testing.T) {
	h := newHarness(t)
	h.data("project", "create", "--name", "Beetles")
	sess := h.data("session", "create").(map[string]any)
	h.fails(ErrCodeValidation, ExitFailure, "capture", "add", sess["id"].(string), writePNG(t), "--order", "Coleoptera")
	h.fails(ErrCodeNotFound, ExitFailure, "capture", "add", "no-such-session", writePNG(t),
		"--order", "Coleoptera", "--family", "Carabidae", "--genus", "Carabus", "--species", "violaceus")
}

func TestMuseumCommands(t *testing.T) {
	h := newHarness(t)
	h.data("project", "create", "--name", "Beetles")
	nhm := []string{"--name", "Natural History Museum", "--city", "London", "--street", "Cromwell Road", "--number", "5"}

	added := h.data(append([]string{"museum", "add"}, nhm...)...).(map[string]any)
	assert.NotEmpty(t, added["id"])
	h.fails(ErrCodeDuplicate, ExitFailure, append([]string{"museum", "add"}, nhm...)...)
	h.fails(ErrCodeValidation, ExitFailure, "museum", "add", "--name", "Nameless")

	edited := h.data(append([]string{"museum", "edit", "--set-number", "7"}, nhm...)...).(map[string]any)
	assert.Equal(t, added["id"], edited["id"], "default keying keeps the original identifier")

	list := h.data("museum", "list").([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "7", list[0].(map[string]any)["museum"].(map[string]any)["number"])

	h.data(append([]string{"museum", "remove"}, nhm...)...)
	h.fails(ErrCodeNotFound, ExitFailure, append([]string{"museum", "remove"}, nhm...)...)
	assert.Empty(t, h.data("museum", "list"))
}

func TestMuseumEditKeyedByUpdated(t *testing.T) {
	h := newHarness(t)
	h.env["DRAWERSTORE_MUSEUM_EDIT_KEYING"] = "updated"
	h.data("project", "create", "--name", "Beetles")
	nhm := []string{"--name", "NHM", "--city", "London", "--street", "Cromwell Road", "--number", "5"}
	added := h.data(append([]string{"museum", "add"}, nhm...)...).(map[string]any)
	edited := h.data(append([]string{"museum", "edit", "--set-city", "Tring"}, nhm...)...).(map[string]any)
	assert.NotEqual(t, added["id"], edited["id"])
}

func TestUserCommands(t *testing.T) {
	h := newHarness(t)
	h.data("project", "create", "--name", "Beetles")

	h.data("user", "add", "curator", "--password", "s3cret", "--role", "admin")
	h.data("user", "add", "intern", "--password", "pw", "--role", "viewer")
	h.fails(ErrCodeDuplicate, ExitFailure, "user", "add", "intern", "--password", "pw")

	users := h.data("user", "list").([]any)
	require.Len(t, users, 2)
	assert.NotContains(t, users[0], "password")

	ok := h.data("user", "verify", "curator", "--password", "s3cret").(map[string]any)
	assert.Equal(t, true, ok["valid"])
	_, err := h.run("user", "verify", "curator", "--password", "wrong")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.EqualValues(t, 1, h.data("user", "admins").(map[string]any)["admins"])
	h.data("user", "role", "intern", "admin")
	assert.EqualValues(t, 2, h.data("user", "admins").(map[string]any)["admins"])

	h.fails(ErrCodeDenied, ExitFailure, "user", "passwd", "intern", "--old", "nope", "--new", "pw2")
	h.data("user", "passwd", "intern", "--old", "pw", "--new", "pw2")
	assert.Equal(t, true, h.data("user", "verify", "intern", "--password", "pw2").(map[string]any)["valid"])
	assert.EqualValues(t, 2, h.data("user", "admins").(map[string]any)["admins"], "passwd keeps the role")

	removed := h.data("user", "remove", "intern").(map[string]any)
	assert.Equal(t, true, removed["removed"])
	removed = h.data("user", "remove", "intern").(map[string]any)
	assert.Equal(t, false, removed["removed"])
}

func TestMetricsFile(t *testing.T) {
	for _, backend := range []string{"expvar", "prometheus"} {
		t.Run(backend, func(t *testing.T) {
			h := newHarness(t)
			path := filepath.Join(t.TempDir(), "metrics.out")
			h.env["DRAWERSTORE_METRICS"] = backend
			h.env["DRAWERSTORE_METRICS_FILE"] = path
			h.data("project", "create", "--name", "Beetles")
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Contains(t, string(data), "create_project")
		})
	}
}

func TestTraceWritesToStderr(t *testing.T) {
	h := newHarness(t)
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := newRootCommand(&RootOptions{Getenv: func(string) string { return "" }})
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{"--root", h.root, "--trace", "project", "create", "--name", "Beetles"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, errOut.String(), `"create_project"`)
	assert.Contains(t, out.String(), "Beetles")
}
