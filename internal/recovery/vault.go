// Package recovery manages the hashed one-time codes a teacher can use to
// record attendance when their registered device is unavailable.
package recovery

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"schoolattendance/internal/clock"
)

// ErrInvalid is returned when no unused code of the teacher matches.
var ErrInvalid = errors.New("invalid or used recovery code")

// Code is a stored recovery code. Only the hash is kept.
type Code struct {
	ID        string     `json:"id"`
	TeacherID string     `json:"teacher_id"`
	CodeHash  string     `json:"-"`
	IsUsed    bool       `json:"is_used"`
	Reason    string     `json:"reason,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Repository persists recovery codes.
type Repository interface {
	Insert(ctx context.Context, codes ...Code) error
	ListUnused(ctx context.Context, teacherID string) ([]Code, error)
	// MarkUsed flips is_used from false to true for the code with codeHash.
	// It reports false when the code was already used, so of two racing
	// callers exactly one observes true.
	MarkUsed(ctx context.Context, codeHash, reason string, usedAt time.Time) (bool, error)
}

// Vault provisions and claims recovery codes.
type Vault struct {
	repo   Repository
	hasher Hasher
	clock  clock.Clock
}

func NewVault(repo Repository, hasher Hasher, clk clock.Clock) *Vault {
	return &Vault{repo: repo, hasher: hasher, clock: clk}
}

// ListUnused returns the teacher's codes that can still be claimed.
func (v *Vault) ListUnused(ctx context.Context, teacherID string) ([]Code, error) {
	return v.repo.ListUnused(ctx, teacherID)
}

// Add stores plaintext codes for the teacher, hashed.
func (v *Vault) Add(ctx context.Context, teacherID string, plaintexts ...string) ([]Code, error) {
	if teacherID == "" {
		return nil, errors.New("teacher id required")
	}
	now := v.clock.Now()
	codes := make([]Code, 0, len(plaintexts))
	for _, p := range plaintexts {
		p = Normalize(p)
		if p == "" {
			return nil, errors.New("empty recovery code")
		}
		h, err := v.hasher.Hash(p)
		if err != nil {
			return nil, err
		}
		codes = append(codes, Code{ID: uuid.NewString(), TeacherID: teacherID, CodeHash: h, CreatedAt: now})
	}
	if err := v.repo.Insert(ctx, codes...); err != nil {
		return nil, err
	}
	return codes, nil
}

// Provision generates n fresh codes for the teacher and returns their
// plaintext. The plaintext is not recoverable afterwards.
func (v *Vault) Provision(ctx context.Context, teacherID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, errors.New("code count must be positive")
	}
	plain := make([]string, n)
	for i := range plain {
		c, err := generate()
		if err != nil {
			return nil, err
		}
		plain[i] = c
	}
	if _, err := v.Add(ctx, teacherID, plain...); err != nil {
		return nil, err
	}
	return plain, nil
}

// Claim consumes the teacher's unused code matching submitted and records
// reason on it. Every candidate hash is checked, so the time taken does not
// depend on where in the list the match sits.
func (v *Vault) Claim(ctx context.Context, teacherID, submitted, reason string) (Code, error) {
	submitted = Normalize(submitted)
	if submitted == "" {
		return Code{}, ErrInvalid
	}
	unused, err := v.repo.ListUnused(ctx, teacherID)
	if err != nil {
		return Code{}, err
	}

	match := -1
	for i, c := range unused {
		if v.hasher.Verify(submitted, c.CodeHash) && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return Code{}, ErrInvalid
	}

	c := unused[match]
	now := v.clock.Now()
	won, err := v.repo.MarkUsed(ctx, c.CodeHash, reason, now)
	if err != nil {
		return Code{}, err
	}
	if !won {
		return Code{}, ErrInvalid
	}
	c.IsUsed, c.Reason, c.UsedAt = true, reason, &now
	return c, nil
}

// Normalize upper-cases a code and drops separators so "abcd-1234" and
// "ABCD 1234" are the same code.
func Normalize(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == ' ' || r == '\t':
			return -1
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		}
		return r
	}, code)
}

// codeAlphabet omits characters that are easy to misread (0/O, 1/I/L).
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

func generate() (string, error) {
	return generateFrom(rand.Reader)
}

// generateFrom draws 10 symbols from r. Bytes at or above the largest multiple
// of len(codeAlphabet) are discarded so every symbol is equally likely.
func generateFrom(r io.Reader) (string, error) {
	limit := byte(256 / len(codeAlphabet) * len(codeAlphabet))
	var (
		b   strings.Builder
		n   int
		buf [16]byte
	)
	for n < 10 {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return "", err
		}
		for _, x := range buf {
			if x >= limit || n == 10 {
				continue
			}
			if n == 5 {
				b.WriteByte('-')
			}
			b.WriteByte(codeAlphabet[int(x)%len(codeAlphabet)])
			n++
		}
	}
	return b.String(), nil
}
