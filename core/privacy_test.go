package core

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestTrackingBlockerDomains(t *testing.T) {
	b := NewTrackingBlocker()

	tests := []struct {
		domain string
		want   bool
	}{
		{"google-analytics.com", true},
		{"www.google-analytics.com", true},
		{"hotjar.com", true},
		{"example.org", false},
		{"en.wikipedia.org", false},
	}
	for _, tc := range tests {
		if got := b.ShouldBlockDomain(tc.domain); got != tc.want {
			t.Fatalf("%s: blocked=%v want %v", tc.domain, got, tc.want)
		}
	}

	b.AddBlockedDomain("evil-tracker.example")
	if !b.ShouldBlockDomain("evil-tracker.example") {
		t.Fatalf("runtime-added domain not blocked")
	}

	total, blocked, _ := b.Stats()
	if total == 0 || blocked == 0 {
		t.Fatalf("stats not counted: total=%d blocked=%d", total, blocked)
	}
}

func TestTrackingBlockerURLPatterns(t *testing.T) {
	b := NewTrackingBlocker()
	if !b.ShouldBlockURL("https://cdn.example.com/lib/analytics.js") {
		t.Fatalf("pattern url not blocked")
	}
	if b.ShouldBlockURL("https://example.com/article") {
		t.Fatalf("clean url blocked")
	}
}

func TestStripTrackingParams(t *testing.T) {
	b := NewTrackingBlocker()
	out := b.StripTrackingParams("https://example.com/page?utm_source=mail&id=5&fbclid=xyz")
	if strings.Contains(out, "utm_source") || strings.Contains(out, "fbclid") {
		t.Fatalf("tracking params survived: %s", out)
	}
	if !strings.Contains(out, "id=5") {
		t.Fatalf("legitimate param stripped: %s", out)
	}

	clean := "https://example.com/page?id=5"
	if got := b.StripTrackingParams(clean); got != clean {
		t.Fatalf("clean url rewritten: %s", got)
	}
}

func TestCacheMixingRoundTrip(t *testing.T) {
	c := NewCacheMixingStore(10)
	contentHash := Blake3Hash([]byte("page body"))

	commitment, err := c.StoreMixed(contentHash, []byte("page body"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if commitment == ([32]byte{}) {
		t.Fatalf("empty commitment")
	}

	data, ok := c.Retrieve(contentHash)
	if !ok || string(data) != "page body" {
		t.Fatalf("retrieve: ok=%v data=%q", ok, data)
	}
	if _, ok := c.Retrieve(Blake3Hash([]byte("other"))); ok {
		t.Fatalf("miss returned data")
	}

	hits, misses, mixOps := c.Stats()
	if hits != 1 || misses != 1 || mixOps != 1 {
		t.Fatalf("stats: %d/%d/%d", hits, misses, mixOps)
	}
}

func TestCacheMixingTTLAndEviction(t *testing.T) {
	c := NewCacheMixingStore(2)

	h1 := Blake3Hash([]byte("one"))
	h2 := Blake3Hash([]byte("two"))
	h3 := Blake3Hash([]byte("three"))

	if _, err := c.StoreMixedWithTTL(h1, []byte("one"), -time.Second); err != nil {
		t.Fatalf("store: %v", err)
	}
	if removed := c.SweepExpired(); removed != 1 {
		t.Fatalf("swept=%d want 1", removed)
	}

	for _, h := range [][32]byte{h1, h2, h3} {
		if _, err := c.StoreMixed(h, h[:]); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	if c.Len() > 2 {
		t.Fatalf("len=%d exceeds cap", c.Len())
	}
}

func TestStealthSessionLifecycle(t *testing.T) {
	m := NewStealthSessionManagerWithMaxAge(time.Hour)

	session, err := m.CreateSession()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("active=%d want 1", m.ActiveCount())
	}

	if !m.RecordVisit(session.SessionID, "example.com") {
		t.Fatalf("visit not recorded")
	}
	got, ok := m.Session(session.SessionID)
	if !ok || got.VisitCount() != 1 {
		t.Fatalf("session fetch: ok=%v visits=%d", ok, got.VisitCount())
	}

	if !m.EndSession(session.SessionID) {
		t.Fatalf("end failed")
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("session survived end")
	}
}

func TestStealthSessionExpiry(t *testing.T) {
	m := NewStealthSessionManagerWithMaxAge(0)
	session, err := m.CreateSession()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)

	if _, ok := m.Session(session.SessionID); ok {
		t.Fatalf("expired session returned")
	}
	if removed := m.SweepExpired(); removed != 1 {
		t.Fatalf("swept=%d want 1", removed)
	}
}

func TestFingerprintNormalization(t *testing.T) {
	n := NewFingerprintNormalizer()
	headers := http.Header{}
	headers.Set("User-Agent", "custom-agent/9.9")
	headers.Set("X-Forwarded-For", "10.0.0.1")
	headers.Set("Via", "proxy-7")

	n.NormalizeHeaders(headers)

	if got := headers.Get("User-Agent"); got != n.Profile().UserAgent {
		t.Fatalf("user agent not normalized: %s", got)
	}
	if headers.Get("X-Forwarded-For") != "" || headers.Get("Via") != "" {
		t.Fatalf("ip-leaking headers survived")
	}
	if headers.Get("Accept-Language") != "en-US,en;q=0.5" {
		t.Fatalf("profile not applied")
	}
}
