package license

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/giongaysau-stack/minizflash/internal/apperr"
)

var keyPattern = regexp.MustCompile(`^MZ[0-9][A-Z]-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// NormalizeKey trims and uppercases a raw license key.
func NormalizeKey(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidFormat reports whether an already normalized key has the canonical shape.
func ValidFormat(key string) bool {
	return keyPattern.MatchString(key)
}

// Digest returns the salted SHA-256 digest of a normalized key, hex encoded.
// The salt wraps the key on both sides; provisioning uses the same scheme.
func Digest(salt, key string) string {
	sum := sha256.Sum256([]byte(salt + key + salt))
	return hex.EncodeToString(sum[:])
}

// Validator checks license keys against a provisioned digest set.
type Validator struct {
	keys *KeySet
	// digest is swapped in tests to count membership lookups.
	digest func(salt, key string) string
}

func NewValidator(keys *KeySet) *Validator {
	return &Validator{keys: keys, digest: Digest}
}

// Check normalizes raw, rejects malformed keys with InvalidFormat before any
// digest is computed, and returns the key digest when the key is a member of
// the set. Unknown keys fail with UnknownKey.
func (v *Validator) Check(raw string) (string, error) {
	key := NormalizeKey(raw)
	if !ValidFormat(key) {
		return "", apperr.New(apperr.InvalidFormat, "license key must look like MZ1A-XXXX-XXXX-XXXX")
	}
	d := v.digest(v.keys.Salt(), key)
	if !v.keys.Contains(d) {
		return "", apperr.New(apperr.UnknownKey, "license key does not exist or has been disabled")
	}
	return d, nil
}

// Size is the number of provisioned keys.
func (v *Validator) Size() int {
	return v.keys.Len()
}
