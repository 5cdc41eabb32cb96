// Package cryptox holds the cryptographic primitives EFC needs: per-account
// subkey derivation, AEAD chunk encryption, and the block index's strong
// hash. AES-256-GCM usage is adapted directly from the teacher's
// pkg/security/secrets.go (key-size check, cipher.NewGCM, nonce prepended
// to ciphertext); key derivation and strong hashing are new, grounded on
// golang.org/x/crypto, since the teacher only ever encrypts with one
// cluster-wide key and has no notion of chunked per-file subkeys.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the AES-256 key size in bytes.
const KeySize = 32

// StrongHashSize is the truncated Blake2b-256 strong hash size used in the
// block index (spec.md §6: "strong_hash[8]").
const StrongHashSize = 8

// AccountKeys holds the three subkeys derived from one account master key:
// one to encrypt the attributes block, one to encrypt file-content chunks,
// and one to key the block index's strong hash (so an attacker who only
// sees ciphertext chunks cannot forge a matching strong hash).
type AccountKeys struct {
	AttributesKey []byte
	ChunkKey      []byte
	StrongHashKey []byte
}

// DeriveAccountKeys expands a single 32-byte account master key into the
// three subkeys via HKDF over BLAKE2b-256, each under a distinct info label so the
// subkeys are cryptographically independent.
func DeriveAccountKeys(masterKey []byte) (AccountKeys, error) {
	if len(masterKey) != KeySize {
		return AccountKeys{}, fmt.Errorf("cryptox: master key must be %d bytes, got %d", KeySize, len(masterKey))
	}

	attrs, err := expand(masterKey, "boxvault/attributes")
	if err != nil {
		return AccountKeys{}, err
	}
	chunk, err := expand(masterKey, "boxvault/chunk")
	if err != nil {
		return AccountKeys{}, err
	}
	strong, err := expand(masterKey, "boxvault/stronghash")
	if err != nil {
		return AccountKeys{}, err
	}

	return AccountKeys{AttributesKey: attrs, ChunkKey: chunk, StrongHashKey: strong}, nil
}

func expand(masterKey []byte, info string) ([]byte, error) {
	hk := hkdf.New(blake2b.New256, masterKey, nil, []byte(info))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hk, out); err != nil {
		return nil, fmt.Errorf("cryptox: derive %s: %w", info, err)
	}
	return out, nil
}

// Seal encrypts plaintext with key using AES-256-GCM, returning the nonce
// prepended to the ciphertext (mirrors the teacher's EncryptSecret).
func Seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal.
func Open(key, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("cryptox: ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptox: decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cryptox: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: new GCM: %w", err)
	}
	return gcm, nil
}

// StrongHash computes the keyed, truncated strong hash of plaintext used to
// confirm a rolling-checksum match before accepting a block-index
// back-reference (spec.md §4.3 step 3).
func StrongHash(key, plaintext []byte) ([StrongHashSize]byte, error) {
	var out [StrongHashSize]byte
	h, err := blake2b.New(32, key)
	if err != nil {
		return out, fmt.Errorf("cryptox: new strong hash: %w", err)
	}
	h.Write(plaintext)
	sum := h.Sum(nil)
	copy(out[:], sum[:StrongHashSize])
	return out, nil
}
