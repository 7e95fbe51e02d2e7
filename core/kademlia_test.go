package core

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
)

func kadPeer(t *testing.T, seed byte) peer.ID {
	t.Helper()
	raw := append([]byte{0x00, 0x04}, 0xAA, 0xBB, seed, seed)
	id, err := peer.IDFromBytes(raw)
	if err != nil {
		t.Fatalf("peer id: %v", err)
	}
	return id
}

func TestKademliaAddAndCount(t *testing.T) {
	self := kadPeer(t, 0)
	k := NewKademlia(self)

	k.AddPeer(self) // self is never tracked
	if k.PeerCount() != 0 {
		t.Fatalf("self tracked")
	}

	for i := byte(1); i <= 5; i++ {
		k.AddPeer(kadPeer(t, i))
	}
	k.AddPeer(kadPeer(t, 1)) // duplicate
	if k.PeerCount() != 5 {
		t.Fatalf("count=%d want 5", k.PeerCount())
	}

	k.RemovePeer(kadPeer(t, 2))
	if k.PeerCount() != 4 {
		t.Fatalf("count=%d want 4 after remove", k.PeerCount())
	}
}

func TestKademliaStoreLookup(t *testing.T) {
	k := NewKademlia(kadPeer(t, 0))
	k.Store("record", []byte("payload"))

	val, ok := k.Lookup("record")
	if !ok || string(val) != "payload" {
		t.Fatalf("lookup: ok=%v val=%q", ok, val)
	}
	if _, ok := k.Lookup("absent"); ok {
		t.Fatalf("absent key found")
	}

	// Returned slices are copies.
	val[0] = 'X'
	again, _ := k.Lookup("record")
	if string(again) != "payload" {
		t.Fatalf("stored value aliased")
	}
}

func TestKademliaNearest(t *testing.T) {
	self := kadPeer(t, 0)
	k := NewKademlia(self)
	ids := make([]peer.ID, 0, 10)
	for i := byte(1); i <= 10; i++ {
		id := kadPeer(t, i)
		ids = append(ids, id)
		k.AddPeer(id)
	}

	nearest := k.Nearest(ids[0], 3)
	if len(nearest) > 3 {
		t.Fatalf("nearest returned %d peers", len(nearest))
	}
	if len(nearest) == 0 {
		t.Fatalf("nearest returned nothing")
	}
}
