package core

// Shared crypto primitives for the node: BLAKE3 hashing, Ed25519 node
// identity signatures, secp256k1 ECDSA/ECDH for ledger and stealth keys, and
// key derivation. Secret material is zeroized when no longer needed.

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

//---------------------------------------------------------------------
// BLAKE3
//---------------------------------------------------------------------

// Blake3Hash returns the 32-byte BLAKE3 digest of data.
func Blake3Hash(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// Blake3HashDomain hashes data under a domain-separation context string.
func Blake3HashDomain(domain string, data []byte) [32]byte {
	var key [32]byte
	blake3.DeriveKey(domain, data, key[:])
	return key
}

// DeriveChildKey derives a child key from a master key and an index path.
func DeriveChildKey(master *[32]byte, path []uint32) [32]byte {
	material := make([]byte, 0, 32+4*len(path))
	material = append(material, master[:]...)
	for _, p := range path {
		material = append(material,
			byte(p>>24), byte(p>>16), byte(p>>8), byte(p))
	}
	return Blake3HashDomain("NONOS-v1-child-key", material)
}

// ConstantTimeEq compares two byte slices without leaking timing.
func ConstantTimeEq(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// Zeroize overwrites sensitive material in place.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// RandomBytes fills a fresh slice from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("random bytes: %w", err)
	}
	return b, nil
}

// Random32 returns 32 random bytes or panics; used for blindings and seeds
// where failure of the system CSPRNG is unrecoverable.
func Random32() [32]byte {
	var out [32]byte
	if _, err := rand.Read(out[:]); err != nil {
		panic(fmt.Errorf("csprng unavailable: %w", err))
	}
	return out
}

//---------------------------------------------------------------------
// Ed25519 — node identity
//---------------------------------------------------------------------

// GenerateEd25519 creates a fresh node signing keypair.
func GenerateEd25519() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("ed25519 keygen: %w", err)
	}
	return pub, priv, nil
}

// SignEd25519 signs msg with the node identity key.
func SignEd25519(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// VerifyEd25519 reports whether sig is valid for msg under pub.
func VerifyEd25519(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

//---------------------------------------------------------------------
// secp256k1 — ledger and stealth keys
//---------------------------------------------------------------------

// GenerateSecpKey creates a fresh secp256k1 private key.
func GenerateSecpKey() (*secp256k1.PrivateKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("secp256k1 keygen: %w", err)
	}
	return priv, nil
}

// SecpKeyFromBytes loads a 32-byte scalar as a private key.
func SecpKeyFromBytes(b [32]byte) *secp256k1.PrivateKey {
	return secp256k1.PrivKeyFromBytes(b[:])
}

// SignSecp produces a DER-encoded ECDSA signature over the 32-byte digest.
func SignSecp(priv *secp256k1.PrivateKey, digest [32]byte) []byte {
	return secpecdsa.Sign(priv, digest[:]).Serialize()
}

// VerifySecp checks a DER-encoded ECDSA signature.
func VerifySecp(pub *secp256k1.PublicKey, digest [32]byte, sigDER []byte) bool {
	sig, err := secpecdsa.ParseDERSignature(sigDER)
	if err != nil {
		return false
	}
	return sig.Verify(digest[:], pub)
}

// ECDHSharedSecret computes the shared secret between priv and pub.
func ECDHSharedSecret(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) [32]byte {
	var out [32]byte
	copy(out[:], secp256k1.GenerateSharedSecret(priv, pub))
	return out
}

// EthAddress is a 20-byte ledger account address.
type EthAddress [20]byte

// Hex returns the 0x-prefixed lowercase encoding.
func (a EthAddress) Hex() string { return fmt.Sprintf("0x%x", a[:]) }

// DeriveEthAddress computes the ledger address for a secp256k1 public key:
// the last 20 bytes of Keccak-256 over the uncompressed point.
func DeriveEthAddress(pub *secp256k1.PublicKey) EthAddress {
	uncompressed := pub.SerializeUncompressed()
	h := sha3.NewLegacyKeccak256()
	h.Write(uncompressed[1:])
	var addr EthAddress
	copy(addr[:], h.Sum(nil)[12:])
	return addr
}

// Keccak256 hashes data with the ledger's digest function.
func Keccak256(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
