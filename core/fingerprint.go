package core

// Fingerprint normalizer: outbound requests are rewritten to a single
// canonical header profile and stripped of identifying headers, so every
// node presents the same surface to remote endpoints.

import "net/http"

// NormalizedRequest is the canonical header profile.
type NormalizedRequest struct {
	UserAgent      string `json:"user_agent"`
	Accept         string `json:"accept"`
	AcceptLanguage string `json:"accept_language"`
	AcceptEncoding string `json:"accept_encoding"`
	DNT            string `json:"dnt"`
	SecFetchDest   string `json:"sec_fetch_dest"`
	SecFetchMode   string `json:"sec_fetch_mode"`
	SecFetchSite   string `json:"sec_fetch_site"`
	CacheControl   string `json:"cache_control"`
}

// DefaultNormalizedRequest is the profile every node presents.
func DefaultNormalizedRequest() NormalizedRequest {
	return NormalizedRequest{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.5",
		AcceptEncoding: "gzip, deflate, br",
		DNT:            "1",
		SecFetchDest:   "document",
		SecFetchMode:   "navigate",
		SecFetchSite:   "none",
		CacheControl:   "no-cache",
	}
}

// Headers renders the profile as header key/value pairs.
func (r NormalizedRequest) Headers() map[string]string {
	return map[string]string{
		"User-Agent":      r.UserAgent,
		"Accept":          r.Accept,
		"Accept-Language": r.AcceptLanguage,
		"Accept-Encoding": r.AcceptEncoding,
		"DNT":             r.DNT,
		"Sec-Fetch-Dest":  r.SecFetchDest,
		"Sec-Fetch-Mode":  r.SecFetchMode,
		"Sec-Fetch-Site":  r.SecFetchSite,
		"Cache-Control":   r.CacheControl,
	}
}

// FingerprintNormalizer rewrites requests to the canonical profile.
type FingerprintNormalizer struct {
	profile         NormalizedRequest
	trackingHeaders []string
}

// NewFingerprintNormalizer uses the default profile.
func NewFingerprintNormalizer() *FingerprintNormalizer {
	return &FingerprintNormalizer{
		profile: DefaultNormalizedRequest(),
		trackingHeaders: []string{
			"X-Forwarded-For", "X-Real-IP", "X-Client-IP",
			"CF-Connecting-IP", "True-Client-IP", "X-Cluster-Client-IP",
			"Forwarded", "Via",
		},
	}
}

// NormalizeHeaders overwrites identifying headers with the canonical profile
// and drops IP-leaking ones.
func (n *FingerprintNormalizer) NormalizeHeaders(headers http.Header) {
	for key, value := range n.profile.Headers() {
		headers.Set(key, value)
	}
	for _, key := range n.trackingHeaders {
		headers.Del(key)
	}
}

// NormalizeRequest applies the profile to an outbound request.
func (n *FingerprintNormalizer) NormalizeRequest(req *http.Request) {
	n.NormalizeHeaders(req.Header)
}

// Profile returns the active canonical profile.
func (n *FingerprintNormalizer) Profile() NormalizedRequest { return n.profile }
