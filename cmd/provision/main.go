// Command provision builds the digest-only key file loaded by the gate.
//
// Plain keys are read one per line from -in (or stdin with "-in -"), or
// generated with -generate N and printed to stdout for distribution. The key
// file never contains plain keys.
package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/giongaysau-stack/minizflash/internal/license"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "provision:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("provision", flag.ContinueOnError)
	out := fs.String("out", "keys.yaml", "key file to write")
	in := fs.String("in", "", "file with one plain key per line, - for stdin")
	generate := fs.Int("generate", 0, "number of new keys to generate and print")
	salt := fs.String("salt", "", "digest salt; random when empty, ignored with -merge")
	merge := fs.Bool("merge", false, "add to the digests already in -out, keeping its salt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" && *generate <= 0 {
		return errors.New("nothing to provision: pass -in or -generate")
	}

	file := license.KeyFile{Salt: *salt}
	if *merge {
		existing, err := readKeyFile(*out)
		if err != nil {
			return err
		}
		file = existing
	}
	if file.Salt == "" {
		s, err := randomSalt()
		if err != nil {
			return err
		}
		file.Salt = s
	}

	var keys []string
	if *in != "" {
		r := stdin
		if *in != "-" {
			f, err := os.Open(*in)
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		read, err := readKeys(r)
		if err != nil {
			return err
		}
		keys = append(keys, read...)
	}
	for i := 0; i < *generate; i++ {
		k, err := license.GenerateKey()
		if err != nil {
			return err
		}
		keys = append(keys, k)
		fmt.Fprintln(stdout, k)
	}

	seen := make(map[string]struct{}, len(file.Digests)+len(keys))
	for _, d := range file.Digests {
		seen[d] = struct{}{}
	}
	for _, k := range keys {
		seen[license.Digest(file.Salt, k)] = struct{}{}
	}
	file.Digests = file.Digests[:0]
	for d := range seen {
		file.Digests = append(file.Digests, d)
	}
	sort.Strings(file.Digests)

	// round-trip through the loader's validation before writing
	if _, err := license.NewKeySet(file.Salt, file.Digests); err != nil {
		return err
	}
	if err := license.WriteKeyFile(*out, file); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %d digests to %s\n", len(file.Digests), *out)
	return nil
}

// readKeys returns the normalized keys in r, skipping blank lines and
// comments. A malformed key fails the whole run.
func readKeys(r io.Reader) ([]string, error) {
	var keys []string
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		k := license.NormalizeKey(sc.Text())
		if k == "" || strings.HasPrefix(k, "#") {
			continue
		}
		if !license.ValidFormat(k) {
			return nil, fmt.Errorf("line %d: %q is not a valid key", line, k)
		}
		keys = append(keys, k)
	}
	return keys, sc.Err()
}

func readKeyFile(path string) (license.KeyFile, error) {
	set, err := license.LoadKeySet(path)
	if err != nil {
		return license.KeyFile{}, err
	}
	return set.File(), nil
}

func randomSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
