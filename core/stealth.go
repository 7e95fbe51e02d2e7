package core

// Stealth addressing for private payments. A recipient publishes a
// meta-address of two compressed secp256k1 keys; senders derive one-time
// payment addresses via ECDH and announce {ephemeral key, view tag, meta
// hash} so recipients can scan cheaply.

import (
	"encoding/hex"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	stealthPrefix    = "st:eth:0x"
	stealthKeyDomain = "NONOS-v1-stealth-key"
	viewTagDomain    = "NONOS-v1-view-tag"
	stealthHexLen    = 132
)

// StealthMetaAddress is the published spend/view key pair.
type StealthMetaAddress struct {
	SpendPubKey *secp256k1.PublicKey
	ViewPubKey  *secp256k1.PublicKey
}

// Encode renders st:eth:0x{spend}{view}, 132 hex characters after the prefix.
func (m *StealthMetaAddress) Encode() string {
	return stealthPrefix +
		hex.EncodeToString(m.SpendPubKey.SerializeCompressed()) +
		hex.EncodeToString(m.ViewPubKey.SerializeCompressed())
}

// Hash binds both keys into a 32-byte identifier carried in announcements.
func (m *StealthMetaAddress) Hash() [32]byte {
	data := make([]byte, 0, 66)
	data = append(data, m.SpendPubKey.SerializeCompressed()...)
	data = append(data, m.ViewPubKey.SerializeCompressed()...)
	return Blake3Hash(data)
}

// DecodeStealthMetaAddress parses the st:eth:0x encoding.
func DecodeStealthMetaAddress(s string) (*StealthMetaAddress, error) {
	body, ok := strings.CutPrefix(s, stealthPrefix)
	if !ok {
		return nil, wrapErr(ErrInvalidAddress, "missing stealth prefix")
	}
	if len(body) != stealthHexLen {
		return nil, wrapErr(ErrInvalidAddress, "stealth meta-address must be %d hex chars, got %d", stealthHexLen, len(body))
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		return nil, wrapErr(ErrInvalidAddress, "stealth meta-address hex: %v", err)
	}
	spend, err := secp256k1.ParsePubKey(raw[:33])
	if err != nil {
		return nil, wrapErr(ErrInvalidKey, "spend key: %v", err)
	}
	view, err := secp256k1.ParsePubKey(raw[33:])
	if err != nil {
		return nil, wrapErr(ErrInvalidKey, "view key: %v", err)
	}
	return &StealthMetaAddress{SpendPubKey: spend, ViewPubKey: view}, nil
}

// StealthAnnouncement is broadcast alongside a stealth payment.
type StealthAnnouncement struct {
	EphemeralPubKey [33]byte `json:"ephemeral_pubkey"`
	ViewTag         [4]byte  `json:"view_tag"`
	MetaHash        [32]byte `json:"meta_hash"`
}

// StealthKeyPair holds the recipient's spend and view keys.
type StealthKeyPair struct {
	SpendPriv *secp256k1.PrivateKey
	ViewPriv  *secp256k1.PrivateKey
}

// GenerateStealthKeyPair creates fresh spend and view keys.
func GenerateStealthKeyPair() (*StealthKeyPair, error) {
	spend, err := GenerateSecpKey()
	if err != nil {
		return nil, err
	}
	view, err := GenerateSecpKey()
	if err != nil {
		return nil, err
	}
	return &StealthKeyPair{SpendPriv: spend, ViewPriv: view}, nil
}

// StealthKeyPairFromMaster deterministically derives the pair from a wallet
// master key.
func StealthKeyPairFromMaster(master *[32]byte) *StealthKeyPair {
	spendSeed := DeriveChildKey(master, []uint32{0x73746561, 0x6b657930})
	viewSeed := DeriveChildKey(master, []uint32{0x73746561, 0x6b657931})
	pair := &StealthKeyPair{
		SpendPriv: SecpKeyFromBytes(spendSeed),
		ViewPriv:  SecpKeyFromBytes(viewSeed),
	}
	Zeroize(spendSeed[:])
	Zeroize(viewSeed[:])
	return pair
}

// MetaAddress returns the public meta-address for this pair.
func (k *StealthKeyPair) MetaAddress() *StealthMetaAddress {
	return &StealthMetaAddress{
		SpendPubKey: k.SpendPriv.PubKey(),
		ViewPubKey:  k.ViewPriv.PubKey(),
	}
}

// Zero wipes both private scalars.
func (k *StealthKeyPair) Zero() {
	k.SpendPriv.Zero()
	k.ViewPriv.Zero()
}

// addPubKeys computes a + b on the curve.
func addPubKeys(a, b *secp256k1.PublicKey) (*secp256k1.PublicKey, error) {
	var pa, pb, sum secp256k1.JacobianPoint
	a.AsJacobian(&pa)
	b.AsJacobian(&pb)
	secp256k1.AddNonConst(&pa, &pb, &sum)
	if sum.Z.Normalize().IsZero() {
		return nil, wrapErr(ErrInvalidKey, "point at infinity")
	}
	sum.ToAffine()
	return secp256k1.NewPublicKey(&sum.X, &sum.Y), nil
}

// GenerateStealthAddress derives a one-time address for the recipient's
// meta-address and the announcement that lets them find it.
func GenerateStealthAddress(meta *StealthMetaAddress) (*StealthAnnouncement, EthAddress, error) {
	ephemeral, err := GenerateSecpKey()
	if err != nil {
		return nil, EthAddress{}, err
	}
	defer ephemeral.Zero()

	shared := ECDHSharedSecret(ephemeral, meta.ViewPubKey)
	defer Zeroize(shared[:])

	scalarBytes := Blake3HashDomain(stealthKeyDomain, shared[:])
	tagHash := Blake3HashDomain(viewTagDomain, shared[:])

	scalarKey := SecpKeyFromBytes(scalarBytes)
	defer scalarKey.Zero()
	Zeroize(scalarBytes[:])

	stealthPub, err := addPubKeys(meta.SpendPubKey, scalarKey.PubKey())
	if err != nil {
		return nil, EthAddress{}, err
	}

	ann := &StealthAnnouncement{MetaHash: meta.Hash()}
	copy(ann.EphemeralPubKey[:], ephemeral.PubKey().SerializeCompressed())
	copy(ann.ViewTag[:], tagHash[:4])
	return ann, DeriveEthAddress(stealthPub), nil
}

// CheckStealthAnnouncement reports whether an announcement targets this pair.
func (k *StealthKeyPair) CheckStealthAnnouncement(ann *StealthAnnouncement) (bool, error) {
	ephemeral, err := secp256k1.ParsePubKey(ann.EphemeralPubKey[:])
	if err != nil {
		return false, wrapErr(ErrInvalidKey, "ephemeral key: %v", err)
	}
	shared := ECDHSharedSecret(k.ViewPriv, ephemeral)
	defer Zeroize(shared[:])

	tagHash := Blake3HashDomain(viewTagDomain, shared[:])
	return ConstantTimeEq(ann.ViewTag[:], tagHash[:4]), nil
}

// DeriveStealthPrivateKey recovers the one-time spend key for a matched
// announcement.
func (k *StealthKeyPair) DeriveStealthPrivateKey(ann *StealthAnnouncement) (*secp256k1.PrivateKey, error) {
	ephemeral, err := secp256k1.ParsePubKey(ann.EphemeralPubKey[:])
	if err != nil {
		return nil, wrapErr(ErrInvalidKey, "ephemeral key: %v", err)
	}
	shared := ECDHSharedSecret(k.ViewPriv, ephemeral)
	defer Zeroize(shared[:])

	scalarBytes := Blake3HashDomain(stealthKeyDomain, shared[:])
	defer Zeroize(scalarBytes[:])

	var tweak secp256k1.ModNScalar
	tweak.SetByteSlice(scalarBytes[:])

	sum := k.SpendPriv.Key
	sum.Add(&tweak)
	if sum.IsZero() {
		return nil, wrapErr(ErrInvalidKey, "derived zero key")
	}
	return secp256k1.NewPrivateKey(&sum), nil
}

// StealthScanner tracks announcements matched against one key pair.
type StealthScanner struct {
	pair        *StealthKeyPair
	matchedTags [][4]byte
}

// NewStealthScanner wraps a recipient key pair.
func NewStealthScanner(pair *StealthKeyPair) *StealthScanner {
	return &StealthScanner{pair: pair}
}

// ScanAnnouncement returns the recovered spend key when the announcement is
// ours, nil otherwise.
func (s *StealthScanner) ScanAnnouncement(ann *StealthAnnouncement) (*secp256k1.PrivateKey, error) {
	ours, err := s.pair.CheckStealthAnnouncement(ann)
	if err != nil || !ours {
		return nil, err
	}
	priv, err := s.pair.DeriveStealthPrivateKey(ann)
	if err != nil {
		return nil, err
	}
	s.matchedTags = append(s.matchedTags, ann.ViewTag)
	return priv, nil
}

// MetaAddress exposes the scanner's public meta-address.
func (s *StealthScanner) MetaAddress() *StealthMetaAddress { return s.pair.MetaAddress() }

// MatchCount reports how many announcements have matched so far.
func (s *StealthScanner) MatchCount() int { return len(s.matchedTags) }
