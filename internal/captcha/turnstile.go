// Package captcha calls the remote CAPTCHA verifier. It is an optional
// pre-check, not an identity mechanism.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

type Result struct {
	Success            bool     `json:"success"`
	ChallengeTimestamp string   `json:"challenge_ts"`
	Hostname           string   `json:"hostname"`
	ErrorCodes         []string `json:"error-codes"`
}

type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (Result, error)
}

// Turnstile verifies tokens against Cloudflare's siteverify endpoint.
type Turnstile struct {
	client *resty.Client
	secret string
	url    string
}

func NewTurnstile(secret, verifyURL string, timeout time.Duration) (*Turnstile, error) {
	if secret == "" {
		return nil, errors.New("captcha secret required")
	}
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Turnstile{
		client: resty.New().SetTimeout(timeout),
		secret: secret,
		url:    verifyURL,
	}, nil
}

// Verify returns the provider's verdict. A transport failure is an error;
// a rejected token is a Result with Success false.
func (t *Turnstile) Verify(ctx context.Context, token, remoteIP string) (Result, error) {
	body := map[string]string{
		"secret":   t.secret,
		"response": token,
	}
	if remoteIP != "" {
		body["remoteip"] = remoteIP
	}

	var res Result
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&res).
		Post(t.url)
	if err != nil {
		return Result{}, fmt.Errorf("captcha verify: %w", err)
	}
	if resp.IsError() {
		return Result{}, fmt.Errorf("captcha verify: status %d", resp.StatusCode())
	}
	return res, nil
}

// Disabled rejects every token; used when no secret is configured so that a
// client-supplied token can never pass unchecked.
type Disabled struct{}

func (Disabled) Verify(context.Context, string, string) (Result, error) {
	return Result{}, errors.New("captcha verification is not configured")
}
