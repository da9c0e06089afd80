// Package token mints and verifies the short-lived firmware access tokens.
//
// A token is base64url(payload) "." base64url(mac) where payload is
// "digest|device|firmwareID|issuedAtMillis" and mac is HMAC-SHA256 over the raw
// payload bytes. Tokens are not stored; validity is recomputed on every call.
package token

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/giongaysau-stack/minizflash/internal/apperr"
)

// TTL bounds how long an intercepted token stays usable.
const TTL = 5 * time.Minute

const (
	sep       = "|"
	minSecret = 32
)

// Strict rejects non-zero trailing bits, so every token has one encoding.
var enc = base64.RawURLEncoding.Strict()

type Claims struct {
	KeyDigest  string
	Device     string
	FirmwareID string
	IssuedAt   time.Time
}

// ExpiresAt is the last instant the token verifies.
func (c Claims) ExpiresAt() time.Time {
	return c.IssuedAt.Add(TTL)
}

type Service struct {
	secret []byte
	now    func() time.Time
}

func NewService(secret []byte) (*Service, error) {
	if len(secret) < minSecret {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	return &Service{secret: append([]byte(nil), secret...), now: time.Now}, nil
}

// WithClock replaces the wall clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Mint issues a token for a binding check that has just succeeded.
func (s *Service) Mint(keyDigest, device, firmwareID string) (string, error) {
	for _, f := range []string{keyDigest, device, firmwareID} {
		if f == "" || strings.Contains(f, sep) {
			return "", errors.New("token fields must be non-empty and must not contain '|'")
		}
	}
	issued := s.now().UnixMilli()
	payload := []byte(strings.Join([]string{keyDigest, device, firmwareID, strconv.FormatInt(issued, 10)}, sep))
	return enc.EncodeToString(payload) + "." + enc.EncodeToString(s.sign(payload)), nil
}

// Verify runs the checks in a fixed order: structure, signature, device,
// firmware scope, expiry. The first failing check decides the error code.
func (s *Service) Verify(tok, device, firmwareID string) (Claims, error) {
	payload, sig, err := split(tok)
	if err != nil {
		return Claims{}, err
	}
	if !hmac.Equal(sig, s.sign(payload)) {
		return Claims{}, apperr.New(apperr.TamperedOrForged, "access token signature is invalid")
	}
	claims, err := parse(payload)
	if err != nil {
		return Claims{}, err
	}
	if claims.Device != device {
		return Claims{}, apperr.New(apperr.DeviceMismatch, "access token was issued to another device")
	}
	if claims.FirmwareID != firmwareID {
		return Claims{}, apperr.New(apperr.ScopeMismatch, "access token does not cover this firmware")
	}
	if s.now().Sub(claims.IssuedAt) > TTL {
		return Claims{}, apperr.New(apperr.Expired, "access token has expired")
	}
	return claims, nil
}

func (s *Service) sign(payload []byte) []byte {
	m := hmac.New(sha256.New, s.secret)
	m.Write(payload)
	return m.Sum(nil)
}

func split(tok string) ([]byte, []byte, error) {
	malformed := apperr.New(apperr.Malformed, "access token is malformed")
	head, tail, ok := strings.Cut(strings.TrimSpace(tok), ".")
	if !ok || head == "" || tail == "" {
		return nil, nil, malformed
	}
	payload, err := enc.DecodeString(head)
	if err != nil {
		return nil, nil, malformed
	}
	sig, err := enc.DecodeString(tail)
	if err != nil || len(sig) != sha256.Size {
		return nil, nil, malformed
	}
	return payload, sig, nil
}

func parse(payload []byte) (Claims, error) {
	parts := bytes.Split(payload, []byte(sep))
	if len(parts) != 4 {
		return Claims{}, apperr.New(apperr.Malformed, "access token payload is malformed")
	}
	ms, err := strconv.ParseInt(string(parts[3]), 10, 64)
	if err != nil {
		return Claims{}, apperr.New(apperr.Malformed, "access token payload is malformed")
	}
	return Claims{
		KeyDigest:  string(parts[0]),
		Device:     string(parts[1]),
		FirmwareID: string(parts[2]),
		IssuedAt:   time.UnixMilli(ms),
	}, nil
}
