// Package keyring owns the single symmetric key of a project. The key is
// created once, the first time a project is opened, and loaded on every later
// open. It is never regenerated: data encrypted under it (the credential
// vault) has no re-keying path.
//
// Data is sealed as Fernet tokens. The key file holds the 32 Fernet key bytes
// in base64url form, so a project key is interchangeable with any other Fernet
// implementation. Blobs written by earlier releases as versioned
// XChaCha20-Poly1305 frames remain readable through OpenAEAD.
package keyring

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/chacha20poly1305"

	"drawerstore/internal/layout"
	"drawerstore/pkg/domain"
)

// KeySize is the size in bytes of a project key.
const KeySize = len(fernet.Key{})

// BlobVersion is the version byte of a legacy XChaCha20-Poly1305 blob. It is
// part of the additional authenticated data, so altering it fails
// authentication. Fernet tokens are base64url text and never start with it.
const BlobVersion byte = 0x01

// BlobOverhead is the byte overhead of a legacy blob:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const BlobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// noTTL disables token expiry in VerifyAndDecrypt.
const noTTL = -1

var (
	// ErrKeyIO means the key path could not be inspected or read.
	ErrKeyIO = errors.New("key file inaccessible")
	// ErrKeyLoad means the key file exists but does not hold a valid key.
	ErrKeyLoad = fmt.Errorf("%w: malformed key file", domain.ErrCrypto)
	// ErrKeyWrite means a freshly generated key could not be persisted.
	ErrKeyWrite = fmt.Errorf("%w: key file not writable", domain.ErrCrypto)
	// ErrDecrypt means a blob did not authenticate under the key.
	ErrDecrypt = fmt.Errorf("%w: decryption failed", domain.ErrCrypto)
	// ErrClosed is returned by a Key after Close.
	ErrClosed = errors.New("key closed")
)

var encoding = base64.URLEncoding

// Key is a loaded project key. It is safe for concurrent use until Close.
type Key struct {
	material []byte
	created  bool
}

// Open loads the key of the project at root, generating and persisting a new
// one when no key file exists yet.
func Open(root string) (*Key, error) {
	return OpenFile(layout.KeyPath(root))
}

// OpenFile is Open for an explicit key path.
func OpenFile(path string) (*Key, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from trusted project root
	switch {
	case err == nil:
		material, perr := parse(data)
		if perr != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrKeyLoad, path, perr)
		}
		return &Key{material: material}, nil
	case errors.Is(err, fs.ErrNotExist):
		return generate(path)
	default:
		return nil, fmt.Errorf("%w: %v", ErrKeyIO, err)
	}
}

// Created reports whether Open minted this key instead of loading it.
func (k *Key) Created() bool { return k.created }

// Seal encrypts and signs plaintext as a Fernet token.
func (k *Key) Seal(plaintext []byte) ([]byte, error) {
	fk, err := k.fernet()
	if err != nil {
		return nil, err
	}
	token, err := fernet.EncryptAndSign(plaintext, fk)
	if err != nil {
		return nil, fmt.Errorf("sealing fernet token: %w", err)
	}
	return token, nil
}

// Open verifies and decrypts a Fernet token. Tokens never expire.
func (k *Key) Open(token []byte) ([]byte, error) {
	fk, err := k.fernet()
	if err != nil {
		return nil, err
	}
	plaintext := fernet.VerifyAndDecrypt(bytes.TrimSpace(token), noTTL, []*fernet.Key{fk})
	if plaintext == nil {
		return nil, fmt.Errorf("%w: invalid token or wrong key", ErrDecrypt)
	}
	return plaintext, nil
}

// OpenAEAD decrypts a legacy blob laid out as
//
//	[Version: 1 byte] [Nonce: 24 bytes] [Ciphertext+Tag: N+16 bytes]
//
// with the aad it was sealed with. The version byte is authenticated.
func (k *Key) OpenAEAD(blob, aad []byte) ([]byte, error) {
	if k.material == nil {
		return nil, ErrClosed
	}
	if len(blob) < BlobOverhead {
		return nil, fmt.Errorf("%w: blob is %d bytes, minimum is %d", ErrDecrypt, len(blob), BlobOverhead)
	}
	if blob[0] != BlobVersion {
		return nil, fmt.Errorf("%w: unsupported blob version %d", ErrDecrypt, blob[0])
	}
	aead, err := chacha20poly1305.NewX(k.material)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], buildAAD(blob[0], aad))
	if err != nil {
		return nil, fmt.Errorf("%w: wrong key or tampered data", ErrDecrypt)
	}
	return plaintext, nil
}

func (k *Key) fernet() (*fernet.Key, error) {
	if k.material == nil {
		return nil, ErrClosed
	}
	var fk fernet.Key
	copy(fk[:], k.material)
	return &fk, nil
}

// Close zeroes the key material. Idempotent.
func (k *Key) Close() error {
	for i := range k.material {
		k.material[i] = 0
	}
	k.material = nil
	return nil
}

func generate(path string) (*Key, error) {
	material := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, material); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	encoded := make([]byte, encoding.EncodedLen(KeySize))
	encoding.Encode(encoded, material)

	// O_EXCL: a key that appeared since the read above is never clobbered.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // G304
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyWrite, err)
	}
	if _, err := f.Write(encoded); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrKeyWrite, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrKeyWrite, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyWrite, err)
	}
	return &Key{material: material, created: true}, nil
}

// parse accepts the base64url text form written by generate and, for keys
// provisioned by other tools, the raw 32 key bytes.
func parse(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == encoding.EncodedLen(KeySize) {
		material := make([]byte, KeySize)
		n, err := encoding.Decode(material, trimmed)
		if err == nil && n == KeySize {
			return material, nil
		}
	}
	if len(data) == KeySize {
		material := make([]byte, KeySize)
		copy(material, data)
		return material, nil
	}
	return nil, fmt.Errorf("expected %d-byte key, got %d bytes", KeySize, len(data))
}

func buildAAD(version byte, aad []byte) []byte {
	out := make([]byte, 1+len(aad))
	out[0] = version
	copy(out[1:], aad)
	return out
}
