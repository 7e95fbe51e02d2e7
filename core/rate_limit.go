package core

// Per-peer token buckets for message count and byte volume. Both buckets
// refill continuously and burst up to twice the per-second rate. Bookkeeping
// is synchronous; callers hold no other locks while charging.

import (
	"sync"
	"time"
)

// RateLimitReason explains why a message was refused.
type RateLimitReason uint8

const (
	RateLimitOK RateLimitReason = iota
	RateLimitTooManyMessages
	RateLimitTooManyBytes
)

func (r RateLimitReason) String() string {
	switch r {
	case RateLimitTooManyMessages:
		return "too_many_messages"
	case RateLimitTooManyBytes:
		return "too_many_bytes"
	default:
		return "ok"
	}
}

// RateLimiter is a dual token bucket charged once per inbound message.
type RateLimiter struct {
	mu sync.Mutex

	messagesPerSec uint32
	bytesPerSec    uint64
	messageTokens  float64
	byteTokens     float64
	maxMsgBurst    uint32
	maxByteBurst   uint64
	lastUpdate     time.Time
}

// NewRateLimiter builds a limiter with full buckets.
func NewRateLimiter(messagesPerSec uint32, bytesPerSec uint64) *RateLimiter {
	maxMsgBurst := messagesPerSec * 2
	maxByteBurst := bytesPerSec * 2
	return &RateLimiter{
		messagesPerSec: messagesPerSec,
		bytesPerSec:    bytesPerSec,
		messageTokens:  float64(maxMsgBurst),
		byteTokens:     float64(maxByteBurst),
		maxMsgBurst:    maxMsgBurst,
		maxByteBurst:   maxByteBurst,
		lastUpdate:     time.Now(),
	}
}

func (l *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.messageTokens += elapsed * float64(l.messagesPerSec)
	if l.messageTokens > float64(l.maxMsgBurst) {
		l.messageTokens = float64(l.maxMsgBurst)
	}
	l.byteTokens += elapsed * float64(l.bytesPerSec)
	if l.byteTokens > float64(l.maxByteBurst) {
		l.byteTokens = float64(l.maxByteBurst)
	}
}

// CheckMessage charges one message of the given size against both buckets.
func (l *RateLimiter) CheckMessage(bytes uint64) RateLimitReason {
	return l.checkMessageAt(bytes, time.Now())
}

func (l *RateLimiter) checkMessageAt(bytes uint64, now time.Time) RateLimitReason {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(now)

	if l.messageTokens < 1.0 {
		return RateLimitTooManyMessages
	}
	if uint64(l.byteTokens) < bytes {
		return RateLimitTooManyBytes
	}
	l.messageTokens--
	l.byteTokens -= float64(bytes)
	return RateLimitOK
}

// UpdateLimits reconfigures the rates; burst ceilings follow.
func (l *RateLimiter) UpdateLimits(messagesPerSec uint32, bytesPerSec uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messagesPerSec = messagesPerSec
	l.bytesPerSec = bytesPerSec
	l.maxMsgBurst = messagesPerSec * 2
	l.maxByteBurst = bytesPerSec * 2
}

// AvailableMessages returns the whole message tokens remaining.
func (l *RateLimiter) AvailableMessages() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint32(l.messageTokens)
}

// AvailableBytes returns the byte tokens remaining.
func (l *RateLimiter) AvailableBytes() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(l.byteTokens)
}
