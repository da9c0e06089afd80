package license

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	digits       = "0123456789"
	letters      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	alphanumeric = digits + letters
)

// GenerateKey returns a random key in canonical shape.
func GenerateKey() (string, error) {
	var b strings.Builder
	b.WriteString("MZ")
	for _, set := range []string{digits, letters} {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		b.WriteByte(c)
	}
	for group := 0; group < 3; group++ {
		b.WriteByte('-')
		for i := 0; i < 4; i++ {
			c, err := pick(alphanumeric)
			if err != nil {
				return "", err
			}
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}
