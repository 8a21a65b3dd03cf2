// Package challenge issues and consumes single-use random challenges bound
// to a subject, the server half of the sign-over-a-nonce handshake.
package challenge

import (
	"context"
	"errors"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

// ErrNotFound is returned by Consume when no live challenge exists for the
// subject: never issued, already consumed, or expired.
var ErrNotFound = errors.New("no challenge found")

// Store holds at most one challenge per subject.
type Store interface {
	// Put stores challenge for subject, replacing any previous one.
	Put(ctx context.Context, subject string, challenge []byte, ttl time.Duration) error
	// Take atomically returns and deletes the subject's challenge.
	Take(ctx context.Context, subject string) ([]byte, error)
}

// Session issues challenges into a Store.
type Session struct {
	store Store
	ttl   time.Duration
}

// NewSession creates a session; challenges expire after ttl (5 minutes when ttl <= 0).
func NewSession(store Store, ttl time.Duration) *Session {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Session{store: store, ttl: ttl}
}

// Issue generates a fresh challenge for subject. Any unconsumed challenge
// previously issued to the same subject is superseded.
func (s *Session) Issue(ctx context.Context, subject string) ([]byte, error) {
	if subject == "" {
		return nil, errors.New("challenge subject required")
	}
	c, err := protocol.CreateChallenge()
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, subject, c, s.ttl); err != nil {
		return nil, err
	}
	return []byte(c), nil
}

// Consume returns the subject's challenge and removes it, so it can be used
// at most once.
func (s *Session) Consume(ctx context.Context, subject string) ([]byte, error) {
	return s.store.Take(ctx, subject)
}
