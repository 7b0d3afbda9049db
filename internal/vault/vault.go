// Package vault stores the user list of a project encrypted at rest as a
// Fernet token. The whole list is the unit of encryption: every mutation
// decrypts the full list, changes it in memory, then seals and atomically
// rewrites the file.
package vault

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"drawerstore/internal/fsutil"
	"drawerstore/internal/keyring"
	"drawerstore/internal/layout"
	"drawerstore/pkg/domain"
)

var (
	// ErrCorrupt means the credentials file decrypted but does not hold a
	// user list.
	ErrCorrupt = fmt.Errorf("%w: credentials file corrupt", domain.ErrCrypto)
	// ErrInvalidUsername rejects an empty username.
	ErrInvalidUsername = fmt.Errorf("%w: username required", domain.ErrValidation)
	// ErrPasswordMismatch means ResetPassword was given the wrong old password.
	ErrPasswordMismatch = errors.New("old password does not match")
)

// legacyAAD is the additional data older releases bound to XChaCha20-Poly1305
// credential blobs.
var legacyAAD = []byte("drawerstore/credentials/v1")

// Cipher seals and opens Fernet tokens. *keyring.Key satisfies it.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(token []byte) ([]byte, error)
}

// legacyOpener reads credential files written before the vault moved to
// Fernet. The next save rewrites them as tokens.
type legacyOpener interface {
	OpenAEAD(blob, aad []byte) ([]byte, error)
}

// Vault is the credential store of one project. It does no locking of its
// own; the project handle serializes callers.
type Vault struct {
	path   string
	cipher Cipher
}

// New returns the vault of the project at root.
func New(root string, cipher Cipher) *Vault {
	return NewAt(layout.CredentialsPath(root), cipher)
}

// NewAt returns a vault backed by an explicit file path.
func NewAt(path string, cipher Cipher) *Vault {
	return &Vault{path: path, cipher: cipher}
}

// Users returns the stored users in insertion order. A vault that was never
// written is empty.
func (v *Vault) Users() ([]domain.User, error) {
	blob, err := os.ReadFile(v.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.User{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	plain, err := v.open(blob)
	if err != nil {
		return nil, err
	}
	var users []domain.User
	if err := json.Unmarshal(plain, &users); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

// Add appends user, rejecting empty and duplicate usernames.
func (v *Vault) Add(user domain.User) error {
	if strings.TrimSpace(user.Username) == "" {
		return ErrInvalidUsername
	}
	users, err := v.Users()
	if err != nil {
		return err
	}
	if indexOf(users, user.Username) >= 0 {
		return domain.DuplicateError{Entity: domain.EntityUser, ID: user.Username}
	}
	return v.save(append(users, user))
}

// Remove deletes the first user named username. It reports whether a record
// was removed; a miss leaves the file untouched.
func (v *Vault) Remove(username string) (bool, error) {
	users, err := v.Users()
	if err != nil {
		return false, err
	}
	i := indexOf(users, username)
	if i < 0 {
		return false, nil
	}
	users = append(users[:i], users[i+1:]...)
	return true, v.save(users)
}

// ChangeRole sets the role of username.
func (v *Vault) ChangeRole(username, role string) error {
	users, err := v.Users()
	if err != nil {
		return err
	}
	i := indexOf(users, username)
	if i < 0 {
		return domain.NotFoundError{Entity: domain.EntityUser, ID: username}
	}
	users[i].Role = role
	return v.save(users)
}

// ResetPassword replaces the password and role of username once oldPassword
// has been checked against the stored one.
func (v *Vault) ResetPassword(username, role, oldPassword, newPassword string) error {
	users, err := v.Users()
	if err != nil {
		return err
	}
	i := indexOf(users, username)
	if i < 0 {
		return domain.NotFoundError{Entity: domain.EntityUser, ID: username}
	}
	if !passwordsEqual(users[i].Password, oldPassword) {
		return ErrPasswordMismatch
	}
	users[i].Password = newPassword
	users[i].Role = role
	return v.save(users)
}

// Verify checks a username and password pair. The returned bool is false
// when no record matches; err is only set when the vault cannot be read.
func (v *Vault) Verify(username, password string) (domain.Identity, bool, error) {
	users, err := v.Users()
	if err != nil {
		return domain.Identity{}, false, err
	}
	for _, u := range users {
		if u.Username == username && passwordsEqual(u.Password, password) {
			return domain.Identity{Username: u.Username, Role: u.Role}, true, nil
		}
	}
	return domain.Identity{}, false, nil
}

// CountAdmins returns the number of users holding the admin role.
func (v *Vault) CountAdmins() (int, error) {
	users, err := v.Users()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, u := range users {
		if u.Role == domain.RoleAdmin {
			n++
		}
	}
	return n, nil
}

func (v *Vault) save(users []domain.User) error {
	if users == nil {
		users = []domain.User{}
	}
	plain, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	blob, err := v.cipher.Seal(plain)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFile(v.path, blob, 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}

func (v *Vault) open(blob []byte) ([]byte, error) {
	if len(blob) == 0 || blob[0] != keyring.BlobVersion {
		return v.cipher.Open(blob)
	}
	legacy, ok := v.cipher.(legacyOpener)
	if !ok {
		return nil, fmt.Errorf("%w: legacy credentials blob", keyring.ErrDecrypt)
	}
	return legacy.OpenAEAD(blob, legacyAAD)
}

func indexOf(users []domain.User, username string) int {
	for i, u := range users {
		if u.Username == username {
			return i
		}
	}
	return -1
}

func passwordsEqual(stored, given string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}
