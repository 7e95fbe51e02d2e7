package core

import (
	"strings"
	"testing"
)

func TestStealthMetaAddressEncoding(t *testing.T) {
	pair, err := GenerateStealthKeyPair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	meta := pair.MetaAddress()

	encoded := meta.Encode()
	if !strings.HasPrefix(encoded, "st:eth:0x") {
		t.Fatalf("bad prefix: %s", encoded)
	}
	if len(encoded) != len("st:eth:0x")+stealthHexLen {
		t.Fatalf("encoded length=%d", len(encoded))
	}

	decoded, err := DecodeStealthMetaAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.SpendPubKey.IsEqual(meta.SpendPubKey) || !decoded.ViewPubKey.IsEqual(meta.ViewPubKey) {
		t.Fatalf("decode round trip mismatch")
	}
}

func TestDecodeStealthMetaAddressRejectsGarbage(t *testing.T) {
	tests := []string{
		"",
		"st:eth:0x",
		"0x" + strings.Repeat("ab", 66),
		"st:eth:0x" + strings.Repeat("zz", 66),
		"st:eth:0x" + strings.Repeat("ab", 10),
	}
	for _, tc := range tests {
		if _, err := DecodeStealthMetaAddress(tc); err == nil {
			t.Fatalf("accepted %q", tc)
		}
	}
}

func TestStealthScanOwnAnnouncement(t *testing.T) {
	recipient, err := GenerateStealthKeyPair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	meta := recipient.MetaAddress()

	ann, ethAddr, err := GenerateStealthAddress(meta)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	scanner := NewStealthScanner(recipient)
	priv, err := scanner.ScanAnnouncement(ann)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if priv == nil {
		t.Fatalf("own announcement not matched")
	}
	if derived := DeriveEthAddress(priv.PubKey()); derived != ethAddr {
		t.Fatalf("recovered key derives %s want %s", derived.Hex(), ethAddr.Hex())
	}
	if scanner.MatchCount() != 1 {
		t.Fatalf("match count=%d", scanner.MatchCount())
	}
}

func TestStealthScanForeignAnnouncement(t *testing.T) {
	alice, _ := GenerateStealthKeyPair()
	bob, _ := GenerateStealthKeyPair()

	ann, _, err := GenerateStealthAddress(alice.MetaAddress())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	scanner := NewStealthScanner(bob)
	priv, err := scanner.ScanAnnouncement(ann)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if priv != nil {
		t.Fatalf("foreign announcement matched")
	}
}

func TestStealthKeysFromMasterDeterministic(t *testing.T) {
	master := [32]byte{0xab}
	p1 := StealthKeyPairFromMaster(&master)
	p2 := StealthKeyPairFromMaster(&master)
	if !p1.SpendPriv.PubKey().IsEqual(p2.SpendPriv.PubKey()) ||
		!p1.ViewPriv.PubKey().IsEqual(p2.ViewPriv.PubKey()) {
		t.Fatalf("master derivation not deterministic")
	}
}
