package core

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

var digestPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Digest streams r through SHA-1 and returns the lowercase hex digest along
// with the number of bytes read.
func Digest(r io.Reader) (string, int64, error) {
	h := sha1.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// DigestFile returns the SHA-1 digest and size of the file at path.
func DigestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return Digest(f)
}

// NormalizeDigest trims and lowercases a client supplied SHA-1 digest and
// checks that it is 40 hex characters.
func NormalizeDigest(s string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(s))
	if !digestPattern.MatchString(d) {
		return "", &ValidationError{Arg: "sha1hash", Cause: "expected 40 hexadecimal characters"}
	}
	return d, nil
}
