package feedtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformed = errors.New("feed token malformed")
	ErrSignature = errors.New("feed token signature mismatch")
	ErrExpired   = errors.New("feed token expired")
)

// Subject identifies whose calendar a feed token unlocks.
type Subject struct {
	UserID    string
	Role      string
	StudentID string
}

// Signer issues and verifies calendar subscription tokens. Tokens are
// HMAC-SHA256 signed and carry their own expiry, so no server state is kept.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner constructs a signer with the provided secret and TTL.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate returns a signed token for subject and its expiry.
func (s *Signer) Generate(subject Subject) (string, time.Time, error) {
	if subject.UserID == "" || subject.Role == "" {
		return "", time.Time{}, fmt.Errorf("user id and role required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	parts := []string{
		encode(subject.UserID),
		encode(subject.Role),
		encode(subject.StudentID),
		strconv.FormatInt(expiresAt.Unix(), 10),
	}
	parts = append(parts, s.sign(parts))
	return strings.Join(parts, "."), expiresAt, nil
}

// Parse validates a token and returns the subject it was issued for.
func (s *Signer) Parse(token string) (Subject, time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 5 {
		return Subject{}, time.Time{}, ErrMalformed
	}
	if !hmac.Equal([]byte(s.sign(parts[:4])), []byte(parts[4])) {
		return Subject{}, time.Time{}, ErrSignature
	}

	exp, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Subject{}, time.Time{}, ErrMalformed
	}
	expiresAt := time.Unix(exp, 0)
	if s.now().After(expiresAt) {
		return Subject{}, time.Time{}, ErrExpired
	}

	var subject Subject
	for i, dst := range []*string{&subject.UserID, &subject.Role, &subject.StudentID} {
		raw, err := base64.RawURLEncoding.DecodeString(parts[i])
		if err != nil {
			return Subject{}, time.Time{}, ErrMalformed
		}
		*dst = string(raw)
	}
	return subject, expiresAt, nil
}

func (s *Signer) sign(parts []string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}

func encode(v string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(v))
}
