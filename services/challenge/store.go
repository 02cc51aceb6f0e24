// Package challenge implements the challenge/response signing protocol that
// guards every privileged call: clients fetch a single-use random token, sign
// it together with the request, and the server verifies and burns it before
// doing any work.
package challenge

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/omnichat-gateway/internal/clock"
	"github.com/upb/omnichat-gateway/repositories"
	"github.com/upb/omnichat-gateway/services"
	"go.uber.org/zap"
)

const (
	DefaultTTL         = 60 * time.Second
	DefaultDriftWindow = 30 * time.Second

	keyPrefix  = "challenge:"
	usedSuffix = ":used"
)

// Config holds the verification parameters
type Config struct {
	Secret      []byte
	TTL         time.Duration
	DriftWindow time.Duration
}

// Challenge is an issued, not yet consumed token
type Challenge struct {
	Token    string
	IssuedAt time.Time
	TTL      time.Duration
}

// TTLSeconds returns the lifetime in whole seconds
func (c *Challenge) TTLSeconds() int {
	return int(c.TTL / time.Second)
}

// VerifyRequest carries what the client sent
type VerifyRequest struct {
	Token     string
	Timestamp int64 // unix milliseconds claimed by the client
	Signature string
	Payload   string
}

// AuthResult is returned when a challenge was verified and consumed
type AuthResult struct {
	Token      string
	IssuedAt   time.Time
	VerifiedAt time.Time
}

type record struct {
	IssuedAt int64 `json:"issued_at"`
}

// Store issues challenges and verifies them exactly once
type Store struct {
	kv     repositories.KVStore
	clock  clock.Clock
	tokens clock.TokenSource
	cfg    Config
	logger *zap.Logger
}

// NewStore creates a challenge store
func NewStore(kv repositories.KVStore, clk clock.Clock, tokens clock.TokenSource, cfg Config, logger *zap.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.DriftWindow <= 0 {
		cfg.DriftWindow = DefaultDriftWindow
	}
	return &Store{
		kv:     kv,
		clock:  clk,
		tokens: tokens,
		cfg:    cfg,
		logger: logger,
	}
}

func (s *Store) retention() time.Duration {
	return 2 * s.cfg.TTL
}

func recordKey(token string) string { return keyPrefix + token }
func usedKey(token string) string   { return keyPrefix + token + usedSuffix }

// IssueChallenge creates and stores a fresh unused challenge
func (s *Store) IssueChallenge(ctx context.Context) (*Challenge, error) {
	token, err := s.tokens.Token()
	if err != nil {
		return nil, services.WrapInternal("failed to generate challenge", err)
	}

	now := s.clock.Now()
	raw, err := json.Marshal(record{IssuedAt: now.UnixMilli()})
	if err != nil {
		return nil, services.WrapInternal("failed to encode challenge", err)
	}

	// kept for twice the TTL so a late attempt is reported as expired rather than unknown
	if err := s.kv.Put(ctx, recordKey(token), string(raw), s.retention()); err != nil {
		return nil, services.WrapStoreUnavailable("failed to store challenge", err)
	}

	return &Challenge{
		Token:    token,
		IssuedAt: now,
		TTL:      s.cfg.TTL,
	}, nil
}

// VerifyAndConsume checks a signed request against its challenge and burns the challenge.
// Checks run in a fixed order: presence, expiry/reuse, clock drift, signature.
func (s *Store) VerifyAndConsume(ctx context.Context, req VerifyRequest) (*AuthResult, error) {
	if req.Token == "" {
		return nil, services.ErrMissingChallenge
	}

	raw, ok, err := s.kv.Get(ctx, recordKey(req.Token))
	if err != nil {
		return nil, services.WrapStoreUnavailable("failed to read challenge", err)
	}
	if !ok {
		// a consumed challenge leaves its marker behind
		_, used, err := s.kv.Get(ctx, usedKey(req.Token))
		if err != nil {
			return nil, services.WrapStoreUnavailable("failed to read challenge", err)
		}
		if used {
			return nil, alreadyUsed()
		}
		return nil, services.ErrMissingChallenge
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.logger.Warn("discarding corrupt challenge record", zap.Error(err))
		return nil, services.ErrMissingChallenge
	}

	now := s.clock.Now()
	issuedAt := time.UnixMilli(rec.IssuedAt).UTC()
	if now.Sub(issuedAt) > s.cfg.TTL {
		return nil, services.ErrExpiredChallenge
	}

	_, used, err := s.kv.Get(ctx, usedKey(req.Token))
	if err != nil {
		return nil, services.WrapStoreUnavailable("failed to read challenge", err)
	}
	if used {
		return nil, alreadyUsed()
	}

	drift := now.UnixMilli() - req.Timestamp
	if drift < 0 {
		drift = -drift
	}
	if drift > s.cfg.DriftWindow.Milliseconds() {
		return nil, services.ErrTimestampOutOfRange
	}

	if err := Verify(s.cfg.Secret, req.Payload, req.Signature); err != nil {
		return nil, services.ErrInvalidSignature
	}

	created, err := s.kv.PutIfAbsent(ctx, usedKey(req.Token), "1", s.retention())
	if err != nil {
		return nil, services.WrapStoreUnavailable("failed to consume challenge", err)
	}
	if !created {
		return nil, alreadyUsed()
	}

	if err := s.kv.Delete(ctx, recordKey(req.Token)); err != nil {
		// the used marker already guarantees single use
		s.logger.Warn("failed to delete consumed challenge", zap.Error(err))
	}

	return &AuthResult{
		Token:      req.Token,
		IssuedAt:   issuedAt,
		VerifiedAt: now,
	}, nil
}

func alreadyUsed() error {
	return services.NewCodedError(services.ErrorTypeUnauthorized, services.CodeExpiredChallenge,
		"challenge already used", nil)
}

// CanonicalPayload builds the string clients sign:
// "<challenge>|<timestamp>|<clientContext>|<userAgent>|<jsonBody>"
func CanonicalPayload(token string, timestamp int64, clientContext, userAgent string, body []byte) string {
	var b strings.Builder
	b.Grow(len(token) + len(clientContext) + len(userAgent) + len(body) + 24)
	b.WriteString(token)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('|')
	b.WriteString(clientContext)
	b.WriteByte('|')
	b.WriteString(userAgent)
	b.WriteByte('|')
	b.Write(body)
	return b.String()
}

// Sign returns hex(HMAC-SHA256(secret, payload))
func Sign(secret []byte, payload string) (string, error) {
	sig, err := jwt.SigningMethodHS256.Sign(payload, secret)
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// Verify checks a hex signature in constant time
func Verify(secret []byte, payload, signature string) error {
	sig, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	return jwt.SigningMethodHS256.Verify(payload, sig, secret)
}
