// Package layout names the files that make up a project directory.
package layout

import "path/filepath"

const (
	// MetaDirName holds every control file of a project.
	MetaDirName = ".project"
	// CapturesDirName holds one subdirectory per session.
	CapturesDirName = "captures"
	// LedgerFileName is the denormalized capture ledger at the project root.
	LedgerFileName = "captures.csv"

	ConfigFileName      = ".project.ini"
	SessionsFileName    = ".sessions.json"
	MuseumsFileName     = ".museums.json"
	CredentialsFileName = ".credentials"
	KeyFileName         = ".key"
	LockFileName        = ".lock"
	CatalogFileName     = ".catalog.db"
)

// MetaDir returns the control directory of the project at root.
func MetaDir(root string) string { return filepath.Join(root, MetaDirName) }

// CapturesDir returns the directory holding the session folders.
func CapturesDir(root string) string { return filepath.Join(root, CapturesDirName) }

// LedgerPath returns the path of captures.csv.
func LedgerPath(root string) string { return filepath.Join(root, LedgerFileName) }

// ConfigPath returns the path of the project INI file.
func ConfigPath(root string) string { return filepath.Join(root, MetaDirName, ConfigFileName) }

// SessionsPath returns the path of the session ledger.
func SessionsPath(root string) string { return filepath.Join(root, MetaDirName, SessionsFileName) }

// MuseumsPath returns the path of the museum registry.
func MuseumsPath(root string) string { return filepath.Join(root, MetaDirName, MuseumsFileName) }

// CredentialsPath returns the path of the encrypted credential vault.
func CredentialsPath(root string) string {
	return filepath.Join(root, MetaDirName, CredentialsFileName)
}

// KeyPath returns the path of the project's symmetric key.
func KeyPath(root string) string { return filepath.Join(root, MetaDirName, KeyFileName) }

// LockPath returns the path of the advisory lock file.
func LockPath(root string) string { return filepath.Join(root, MetaDirName, LockFileName) }

// CatalogPath returns the default location of the capture catalog database.
func CatalogPath(root string) string { return filepath.Join(root, MetaDirName, CatalogFileName) }

// SessionDir returns the session directory relative to the project root,
// always slash separated so it can be stored in the ledgers verbatim.
func SessionDir(sessionName string) string {
	return CapturesDirName + "/" + sessionName
}
