package core

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := [32]byte{0xab}
	plaintext := []byte("nonos secret wallet data")

	encrypted, err := Encrypt(&key, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if len(encrypted) <= len(plaintext) {
		t.Fatalf("ciphertext not longer than plaintext")
	}

	decrypted, err := Decrypt(&key, encrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key1 := [32]byte{0xab}
	key2 := [32]byte{0xcd}

	encrypted, err := Encrypt(&key1, []byte("secret data"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(&key2, encrypted); err == nil {
		t.Fatalf("wrong key accepted")
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	key := [32]byte{0xab}
	encrypted, err := Encrypt(&key, []byte("secret data"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	for _, idx := range []int{0, len(encrypted) / 2, len(encrypted) - 1} {
		tampered := append([]byte(nil), encrypted...)
		tampered[idx] ^= 0xff
		if _, err := Decrypt(&key, tampered); err == nil {
			t.Fatalf("tampered byte %d accepted", idx)
		}
	}
}

func TestAADBinding(t *testing.T) {
	key := [32]byte{0xab}
	plaintext := []byte("secret data")
	aad := []byte("associated data")

	encrypted, err := EncryptWithAAD(&key, plaintext, aad)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	decrypted, err := DecryptWithAAD(&key, encrypted, aad)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("round trip mismatch")
	}
	if _, err := DecryptWithAAD(&key, encrypted, []byte("wrong aad")); err == nil {
		t.Fatalf("wrong aad accepted")
	}
}

func TestEncryptedDataEnvelope(t *testing.T) {
	key := [32]byte{0xab}
	plaintext := []byte("wallet private key data")

	envelope, err := NewEncryptedData(&key, plaintext)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if envelope.Version != 1 || envelope.Algorithm != envelopeAlgorithm {
		t.Fatalf("envelope header: %+v", envelope)
	}

	raw, err := envelope.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := UnmarshalEncryptedData(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	decrypted, err := parsed.Decrypt(&key)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("round trip mismatch")
	}

	parsed.Version = 2
	if _, err := parsed.Decrypt(&key); err == nil {
		t.Fatalf("unknown version accepted")
	}
}

func TestPasswordKeyDerivation(t *testing.T) {
	password := []byte("user password")
	salt := []byte("random salt")

	key1 := DeriveKeyFromPassword(password, salt, 100)
	key2 := DeriveKeyFromPassword(password, salt, 100)
	if key1 != key2 {
		t.Fatalf("derivation not deterministic")
	}
	if key3 := DeriveKeyFromPassword([]byte("different"), salt, 100); key1 == key3 {
		t.Fatalf("different password gave the same key")
	}
	if key4 := DeriveKeyFromPassword(password, salt, 200); key1 == key4 {
		t.Fatalf("different iteration count gave the same key")
	}
}
