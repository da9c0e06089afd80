// Package firmware releases protected firmware images to holders of a valid
// access token.
package firmware

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/giongaysau-stack/minizflash/internal/apperr"
	"github.com/giongaysau-stack/minizflash/internal/token"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id is acceptable as a firmware identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Catalog maps firmware ids to paths in the asset source.
type Catalog map[string]string

// ParseCatalog validates a catalog loaded from configuration.
func ParseCatalog(m map[string]string) (Catalog, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("firmware catalog is empty")
	}
	c := make(Catalog, len(m))
	for id, path := range m {
		id, path = strings.TrimSpace(id), strings.TrimSpace(path)
		if !ValidID(id) {
			return nil, fmt.Errorf("invalid firmware id %q", id)
		}
		if path == "" || strings.Contains(path, "..") {
			return nil, fmt.Errorf("invalid path %q for firmware %s", path, id)
		}
		c[id] = path
	}
	return c, nil
}

// IDs lists the catalog ids in sorted order.
func (c Catalog) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type Asset struct {
	FirmwareID string
	Data       []byte
	Claims     token.Claims
	FetchedIn  time.Duration
}

// Verifier is the token check the gate depends on.
type Verifier interface {
	Verify(tok, device, firmwareID string) (token.Claims, error)
}

type Gate struct {
	tokens  Verifier
	catalog Catalog
	source  Source
}

func NewGate(tokens Verifier, catalog Catalog, source Source) *Gate {
	return &Gate{tokens: tokens, catalog: catalog, source: source}
}

// Has reports whether id is in the catalog.
func (g *Gate) Has(id string) bool {
	_, ok := g.catalog[id]
	return ok
}

// Release verifies tok for device and firmwareID and fetches the image. Each
// call goes to the source; bytes are returned as fetched, without inspection.
func (g *Gate) Release(ctx context.Context, tok, device, firmwareID string) (Asset, error) {
	claims, err := g.tokens.Verify(tok, device, firmwareID)
	if err != nil {
		return Asset{}, err
	}

	path, ok := g.catalog[firmwareID]
	if !ok {
		return Asset{}, apperr.New(apperr.UnknownFirmware, "firmware not found")
	}

	start := time.Now()
	data, err := g.source.Fetch(ctx, path)
	if err != nil {
		return Asset{}, apperr.Wrap(apperr.UpstreamUnavailable, "failed to fetch firmware from repository", err)
	}
	return Asset{
		FirmwareID: firmwareID,
		Data:       data,
		Claims:     claims,
		FetchedIn:  time.Since(start),
	}, nil
}
