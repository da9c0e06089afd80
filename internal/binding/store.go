// Package binding persists which device each license key digest is bound to.
package binding

import (
	"context"
	"errors"
	"time"

	"github.com/giongaysau-stack/minizflash/internal/apperr"
	"github.com/giongaysau-stack/minizflash/internal/license"
)

type Status string

const (
	FirstUse Status = "first_use"
	Bound    Status = "bound"
)

type Binding struct {
	KeyDigest    string    `json:"keyDigest"`
	BoundDevice  string    `json:"boundDevice"`
	FirstBoundAt time.Time `json:"firstBoundAt"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
	UseCount     int64     `json:"useCount"`
}

type Result struct {
	Status  Status
	Binding Binding
}

type Stats struct {
	Bound     int64 `json:"bound"`
	TotalUses int64 `json:"totalUses"`
}

// ErrNotFound is returned by Get and Unbind when the digest has no binding.
var ErrNotFound = errors.New("binding not found")

// Store is the device binding store. ResolveOrBind must create bindings
// atomically: when two devices race on the same digest exactly one wins and
// the other observes the winner's binding as DeviceMismatch.
type Store interface {
	ResolveOrBind(ctx context.Context, keyDigest, device string) (Result, error)
	Get(ctx context.Context, keyDigest string) (Binding, error)
	// Unbind is the administrative removal of a binding.
	Unbind(ctx context.Context, keyDigest string) error
	List(ctx context.Context) ([]Binding, error)
	Stats(ctx context.Context) (Stats, error)
	Close(ctx context.Context) error
}

func mismatch(b Binding) error {
	e := apperr.New(apperr.DeviceMismatch, "license key is registered to another device")
	e.Hint = license.RedactDevice(b.BoundDevice)
	return e
}

func unavailable(err error) error {
	return apperr.Wrap(apperr.StorageUnavailable, "binding storage is unavailable", err)
}
