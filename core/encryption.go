package core

// Authenticated encryption envelope used for wallets, the node identity file
// and sensitive storage trees. XChaCha20-Poly1305 with a random 24-byte
// nonce prepended to the ciphertext.

import (
	"crypto/rand"
	"encoding/json"

	"golang.org/x/crypto/chacha20poly1305"
)

const envelopeAlgorithm = "XChaCha20-Poly1305"

// Encrypt seals plaintext under key. Output layout: nonce || ciphertext+tag.
func Encrypt(key *[32]byte, plaintext []byte) ([]byte, error) {
	return EncryptWithAAD(key, plaintext, nil)
}

// EncryptWithAAD seals plaintext binding the additional authenticated data.
func EncryptWithAAD(key *[32]byte, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, wrapErr(ErrAeadFailure, "cipher init: %v", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, wrapErr(ErrAeadFailure, "nonce: %v", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Decrypt opens data sealed by Encrypt. The error never depends on
// plaintext contents.
func Decrypt(key *[32]byte, encrypted []byte) ([]byte, error) {
	return DecryptWithAAD(key, encrypted, nil)
}

// DecryptWithAAD opens data sealed by EncryptWithAAD.
func DecryptWithAAD(key *[32]byte, encrypted, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, wrapErr(ErrAeadFailure, "cipher init: %v", err)
	}
	if len(encrypted) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, wrapErr(ErrAeadFailure, "ciphertext too short")
	}
	nonce := encrypted[:chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, encrypted[chacha20poly1305.NonceSizeX:], aad)
	if err != nil {
		return nil, wrapErr(ErrAeadFailure, "open failed")
	}
	return plaintext, nil
}

// EncryptedData is the versioned on-disk envelope.
type EncryptedData struct {
	Version   uint8  `json:"version"`
	Algorithm string `json:"algorithm"`
	Payload   []byte `json:"payload"`
}

// NewEncryptedData seals plaintext into a versioned envelope.
func NewEncryptedData(key *[32]byte, plaintext []byte) (*EncryptedData, error) {
	payload, err := Encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}
	return &EncryptedData{Version: 1, Algorithm: envelopeAlgorithm, Payload: payload}, nil
}

// Decrypt opens a versioned envelope.
func (e *EncryptedData) Decrypt(key *[32]byte) ([]byte, error) {
	if e.Version != 1 {
		return nil, wrapErr(ErrAeadFailure, "unsupported envelope version %d", e.Version)
	}
	if e.Algorithm != envelopeAlgorithm {
		return nil, wrapErr(ErrAeadFailure, "unsupported algorithm %s", e.Algorithm)
	}
	return Decrypt(key, e.Payload)
}

// Marshal renders the envelope for file storage.
func (e *EncryptedData) Marshal() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, wrapErr(ErrStorageSerialization, "envelope: %v", err)
	}
	return raw, nil
}

// UnmarshalEncryptedData parses a stored envelope.
func UnmarshalEncryptedData(raw []byte) (*EncryptedData, error) {
	var e EncryptedData
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, wrapErr(ErrStorageIntegrity, "envelope: %v", err)
	}
	return &e, nil
}

// DeriveKeyFromPassword stretches a password into an encryption key with an
// iterated BLAKE3 chain over the salt.
func DeriveKeyFromPassword(password, salt []byte, iterations uint32) [32]byte {
	key := Blake3Hash(password)
	buf := make([]byte, 0, 32+len(salt))
	for i := uint32(0); i < iterations; i++ {
		buf = buf[:0]
		buf = append(buf, key[:]...)
		buf = append(buf, salt...)
		key = Blake3Hash(buf)
	}
	return key
}
