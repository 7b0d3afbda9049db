package layout

import (
	"path/filepath"
	"testing"
)

func TestPaths(t *testing.T) {
	root := filepath.FromSlash("/data/proj")
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"config", ConfigPath(root), "/data/proj/.project/.project.ini"},
		{"sessions", SessionsPath(root), "/data/proj/.project/.sessions.json"},
		{"museums", MuseumsPath(root), "/data/proj/.project/.museums.json"},
		{"credentials", CredentialsPath(root), "/data/proj/.project/.credentials"},
		{"key", KeyPath(root), "/data/proj/.project/.key"},
		{"lock", LockPath(root), "/data/proj/.project/.lock"},
		{"ledger", LedgerPath(root), "/data/proj/captures.csv"},
		{"captures", CapturesDir(root), "/data/proj/captures"},
	}
	for _, tt := range tests {
		if tt.got != filepath.FromSlash(tt.want) {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
	if got := SessionDir("session-001"); got != "captures/session-001" {
		t.Errorf("SessionDir = %q", got)
	}
}
