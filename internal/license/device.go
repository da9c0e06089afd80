package license

import (
	"regexp"
	"strings"

	"github.com/giongaysau-stack/minizflash/internal/apperr"
)

var devicePattern = regexp.MustCompile(`^([0-9A-F]{2}:){5}[0-9A-F]{2}$`)

// ParseDevice normalizes a MAC-style device identifier to uppercase and
// rejects anything that is not six colon separated hex octets.
func ParseDevice(raw string) (string, error) {
	d := strings.ToUpper(strings.TrimSpace(raw))
	if !devicePattern.MatchString(d) {
		return "", apperr.New(apperr.InvalidDevice, "device id must look like AA:BB:CC:11:22:33")
	}
	return d, nil
}

// RedactDevice keeps the first eight characters of a device id, enough for a
// user to recognise their own hardware without disclosing the full address.
func RedactDevice(device string) string {
	if len(device) <= 8 {
		return device
	}
	return device[:8] + "..."
}

// ShortDigest is the form used when a digest appears in logs.
func ShortDigest(digest string) string {
	if len(digest) <= 12 {
		return digest
	}
	return digest[:12]
}
