package core

// Tracking blocker: known tracker domains are stored both as Poseidon
// hashes (for private membership checks) and as strings (for substring
// matching); URLs are additionally screened against path patterns and
// stripped of tracking query parameters.

import (
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
)

var knownTrackers = []string{
	"google-analytics.com", "googletagmanager.com", "facebook.com",
	"connect.facebook.net", "doubleclick.net", "googlesyndication.com",
	"googleadservices.com", "amazon-adsystem.com", "scorecardresearch.com",
	"quantserve.com", "adsrvr.org", "criteo.com", "taboola.com",
	"outbrain.com", "chartbeat.com", "mixpanel.com", "segment.io",
	"amplitude.com", "hotjar.com", "fullstory.com", "mouseflow.com",
	"crazyegg.com", "clarity.ms", "newrelic.com", "sentry.io",
}

var trackingPatterns = []string{
	"google-analytics.com", "analytics.google.com", "/ga.js", "/gtag/",
	"gtm.js", "analytics.js", "facebook.com/tr", "fbevents.js",
	"connect.facebook", "pixel.facebook", "doubleclick.net",
	"googlesyndication", "googleadservices", "adservice.google", "pagead",
	"hotjar.com", "fullstory.com", "mouseflow.com", "clarity.ms",
	"crazyegg.com", "logrocket.com", "hubspot.com", "marketo.com",
	"pardot.com", "eloqua.com", "fingerprint", "fp.js", "fpjs",
}

var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "fb_action_ids", "fb_action_types", "fb_source", "fb_ref",
	"gclid", "gclsrc", "dclid", "msclkid", "twclid", "mc_cid", "mc_eid",
	"_hsenc", "_hsmi", "hsCtaTracking", "oly_enc_id", "oly_anon_id",
	"vero_id", "nr_email_referer", "mkt_tok", "trk_contact", "trk_msg",
}

// TrackingBlocker screens outbound requests against tracker lists.
type TrackingBlocker struct {
	mu             sync.RWMutex
	domainHashes   map[[32]byte]bool
	domainStrings  map[string]bool
	patterns       []string
	params         map[string]bool

	totalRequests   atomic.Uint64
	requestsBlocked atomic.Uint64
	paramsStripped  atomic.Uint64
}

// NewTrackingBlocker seeds the blocker with the built-in lists.
func NewTrackingBlocker() *TrackingBlocker {
	b := &TrackingBlocker{
		domainHashes:  make(map[[32]byte]bool),
		domainStrings: make(map[string]bool),
		patterns:      append([]string(nil), trackingPatterns...),
		params:        make(map[string]bool),
	}
	for _, domain := range knownTrackers {
		b.domainHashes[PoseidonHashBytes([]byte(domain))] = true
		b.domainStrings[domain] = true
	}
	for _, p := range trackingParams {
		b.params[p] = true
	}
	return b
}

// ShouldBlockDomain reports whether a domain matches the tracker set.
func (b *TrackingBlocker) ShouldBlockDomain(domain string) bool {
	domain = strings.ToLower(domain)
	b.totalRequests.Add(1)

	if b.domainHashes[PoseidonHashBytes([]byte(domain))] {
		b.requestsBlocked.Add(1)
		return true
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for blocked := range b.domainStrings {
		if strings.Contains(domain, blocked) || strings.Contains(blocked, domain) {
			b.requestsBlocked.Add(1)
			return true
		}
	}
	return false
}

// ShouldBlockURL screens a full URL against domain and path patterns.
func (b *TrackingBlocker) ShouldBlockURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Host != "" && b.ShouldBlockDomain(parsed.Hostname()) {
		return true
	}
	lower := strings.ToLower(raw)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, pattern := range b.patterns {
		if strings.Contains(lower, pattern) {
			b.requestsBlocked.Add(1)
			return true
		}
	}
	return false
}

// StripTrackingParams removes tracking query parameters from a URL.
func (b *TrackingBlocker) StripTrackingParams(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	query := parsed.Query()
	stripped := false
	b.mu.RLock()
	for param := range query {
		if b.params[param] {
			query.Del(param)
			stripped = true
		}
	}
	b.mu.RUnlock()
	if !stripped {
		return raw
	}
	b.paramsStripped.Add(1)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// AddBlockedDomain extends the tracker set at runtime.
func (b *TrackingBlocker) AddBlockedDomain(domain string) {
	domain = strings.ToLower(domain)
	b.mu.Lock()
	b.domainStrings[domain] = true
	b.domainHashes[PoseidonHashBytes([]byte(domain))] = true
	b.mu.Unlock()
}

// Stats returns (total requests screened, requests blocked, params stripped).
func (b *TrackingBlocker) Stats() (uint64, uint64, uint64) {
	return b.totalRequests.Load(), b.requestsBlocked.Load(), b.paramsStripped.Load()
}
