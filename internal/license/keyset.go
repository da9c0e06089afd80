package license

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var digestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// KeyFile is the on-disk form produced by cmd/provision. It never contains
// plain license keys.
type KeyFile struct {
	Salt    string   `yaml:"salt"`
	Digests []string `yaml:"digests"`
}

// KeySet is an immutable set of salted key digests.
type KeySet struct {
	salt    string
	digests map[string]struct{}
}

func NewKeySet(salt string, digests []string) (*KeySet, error) {
	if salt == "" {
		return nil, errors.New("key set salt must not be empty")
	}
	set := &KeySet{salt: salt, digests: make(map[string]struct{}, len(digests))}
	for i, d := range digests {
		d = strings.ToLower(strings.TrimSpace(d))
		if !digestPattern.MatchString(d) {
			return nil, fmt.Errorf("digest #%d is not a hex sha256", i+1)
		}
		set.digests[d] = struct{}{}
	}
	return set, nil
}

// KeySetFromKeys digests plain keys in memory. Tests and the provisioning
// tool use it; the running service only loads digests.
func KeySetFromKeys(salt string, keys []string) (*KeySet, error) {
	digests := make([]string, 0, len(keys))
	for _, k := range keys {
		k = NormalizeKey(k)
		if !ValidFormat(k) {
			return nil, fmt.Errorf("key %q does not have the canonical shape", k)
		}
		digests = append(digests, Digest(salt, k))
	}
	return NewKeySet(salt, digests)
}

// LoadKeySet reads a YAML key file.
func LoadKeySet(path string) (*KeySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var f KeyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", path, err)
	}
	return NewKeySet(f.Salt, f.Digests)
}

// WriteKeyFile stores f as YAML at path with owner-only permissions.
func WriteKeyFile(path string, f KeyFile) error {
	data, err := yaml.Marshal(&f)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (s *KeySet) Salt() string { return s.salt }

func (s *KeySet) Len() int { return len(s.digests) }

func (s *KeySet) Contains(digest string) bool {
	_, ok := s.digests[digest]
	return ok
}

// File returns the set in its on-disk form, digests sorted.
func (s *KeySet) File() KeyFile {
	f := KeyFile{Salt: s.salt, Digests: make([]string, 0, len(s.digests))}
	for d := range s.digests {
		f.Digests = append(f.Digests, d)
	}
	sort.Strings(f.Digests)
	return f
}
