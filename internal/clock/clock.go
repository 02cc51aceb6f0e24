// Package clock supplies wall time and random tokens to services so tests can
// control both.
package clock

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Clock returns the current time
type Clock interface {
	Now() time.Time
}

// TokenSource produces unguessable tokens
type TokenSource interface {
	Token() (string, error)
}

// System is the real wall clock, always in UTC
type System struct{}

// Now returns time.Now in UTC
func (System) Now() time.Time {
	return time.Now().UTC()
}

// RandomTokens reads Size bytes from crypto/rand and hex encodes them
type RandomTokens struct {
	Size int
}

// NewRandomTokens creates a token source producing size-byte tokens
func NewRandomTokens(size int) RandomTokens {
	if size <= 0 {
		size = 32
	}
	return RandomTokens{Size: size}
}

// Token returns a fresh hex token
func (r RandomTokens) Token() (string, error) {
	size := r.Size
	if size <= 0 {
		size = 32
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Fake is a manually advanced clock for tests
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock starting at start
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set moves the fake clock to t
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// SequenceTokens returns predictable tokens ("tok-1", "tok-2", ...)
type SequenceTokens struct {
	mu     sync.Mutex
	Prefix string
	n      int
}

// Token returns the next token in the sequence
func (s *SequenceTokens) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	prefix := s.Prefix
	if prefix == "" {
		prefix = "tok"
	}
	return fmt.Sprintf("%s-%d", prefix, s.n), nil
}
