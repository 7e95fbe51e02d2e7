package core

// Stealth browsing sessions: each session carries a throwaway address and
// an ephemeral key, expires after a maximum age and zeroizes its secret on
// teardown. Visited domains are stored only as hashes.

import (
	"sync"
	"time"
)

// StealthSession is one isolated browsing identity.
type StealthSession struct {
	StealthAddress  [20]byte
	EphemeralPubKey [33]byte
	SessionID       [16]byte
	CreatedAt       int64
	VisitedDomains  [][32]byte

	secret [32]byte
}

// IsExpired reports whether the session is past maxAge.
func (s *StealthSession) IsExpired(maxAge time.Duration) bool {
	return time.Now().Unix() > s.CreatedAt+int64(maxAge.Seconds())
}

// VisitCount returns how many domains this session has touched.
func (s *StealthSession) VisitCount() int { return len(s.VisitedDomains) }

func (s *StealthSession) zero() { Zeroize(s.secret[:]) }

// StealthSessionManager creates and expires stealth sessions.
type StealthSessionManager struct {
	mu       sync.RWMutex
	sessions map[[16]byte]*StealthSession
	maxAge   time.Duration

	spendPubKey [33]byte
	viewPubKey  [33]byte
	hasKeys     bool
}

// NewStealthSessionManager uses the default 1h session lifetime.
func NewStealthSessionManager() *StealthSessionManager {
	return NewStealthSessionManagerWithMaxAge(time.Hour)
}

// NewStealthSessionManagerWithMaxAge overrides the session lifetime.
func NewStealthSessionManagerWithMaxAge(maxAge time.Duration) *StealthSessionManager {
	return &StealthSessionManager{
		sessions: make(map[[16]byte]*StealthSession),
		maxAge:   maxAge,
	}
}

// InitStealthKeys registers the wallet's stealth public keys so sessions can
// receive stealth payments.
func (m *StealthSessionManager) InitStealthKeys(spendPubKey, viewPubKey [33]byte) {
	m.mu.Lock()
	m.spendPubKey = spendPubKey
	m.viewPubKey = viewPubKey
	m.hasKeys = true
	m.mu.Unlock()
}

// CreateSession mints a fresh session with random identity material.
func (m *StealthSessionManager) CreateSession() (*StealthSession, error) {
	secret := Random32()
	pubHash := Blake3Hash(secret[:])

	var ephemeral [33]byte
	ephemeral[0] = 0x02
	copy(ephemeral[1:], pubHash[:])

	addrSeed := Random32()
	addrHash := Blake3Hash(addrSeed[:])
	var addr [20]byte
	copy(addr[:], addrHash[:20])

	idBytes, err := RandomBytes(16)
	if err != nil {
		return nil, err
	}
	var id [16]byte
	copy(id[:], idBytes)

	session := &StealthSession{
		StealthAddress:  addr,
		EphemeralPubKey: ephemeral,
		SessionID:       id,
		CreatedAt:       time.Now().Unix(),
		secret:          addrSeed,
	}

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()
	return session, nil
}

// RecordVisit hashes the domain into a session's history.
func (m *StealthSessionManager) RecordVisit(id [16]byte, domain string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return false
	}
	session.VisitedDomains = append(session.VisitedDomains, Blake3Hash([]byte(domain)))
	return true
}

// Session fetches a live session by id.
func (m *StealthSessionManager) Session(id [16]byte) (*StealthSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok || s.IsExpired(m.maxAge) {
		return nil, false
	}
	return s, true
}

// EndSession tears a session down, wiping its secret.
func (m *StealthSessionManager) EndSession(id [16]byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return false
	}
	session.zero()
	delete(m.sessions, id)
	return true
}

// SweepExpired removes and wipes sessions past the lifetime.
func (m *StealthSessionManager) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, session := range m.sessions {
		if session.IsExpired(m.maxAge) {
			session.zero()
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// ActiveCount returns the number of live sessions.
func (m *StealthSessionManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
