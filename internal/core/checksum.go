package core

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// ChecksumResult is the outcome of a verification.
type ChecksumResult struct {
	Algorithm string
	Expected  string
	Actual    string
	Match     bool
}

// ChecksumVerifier hashes files on a billy filesystem.
type ChecksumVerifier struct {
	fs billy.Filesystem
}

func NewChecksumVerifier(fs billy.Filesystem) *ChecksumVerifier {
	return &ChecksumVerifier{fs: fs}
}

var hexLengths = map[int]string{
	32:  "md5",
	40:  "sha1",
	64:  "sha256",
	128: "sha512",
}

// ParseChecksum splits "algo:hex" or bare hex. A bare digest's length
// selects the algorithm.
func ParseChecksum(s string) (algo, digest string, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidChecksum)
	}

	if i := strings.IndexByte(s, ':'); i >= 0 {
		algo, digest = strings.ToLower(s[:i]), strings.ToLower(s[i+1:])
	} else {
		digest = strings.ToLower(s)
		var ok bool
		if algo, ok = hexLengths[len(digest)]; !ok {
			return "", "", fmt.Errorf("%w: cannot infer algorithm from %d hex digits", ErrInvalidChecksum, len(digest))
		}
	}

	h, err := newHash(algo)
	if err != nil {
		return "", "", err
	}
	if _, err := hex.DecodeString(digest); err != nil || len(digest) != h.Size()*2 {
		return "", "", fmt.Errorf("%w: %q is not a %s digest", ErrInvalidChecksum, digest, algo)
	}
	return algo, digest, nil
}

func newHash(algo string) (hash.Hash, error) {
	switch strings.ToLower(algo) {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha256", "":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidChecksum, algo)
	}
}

// Compute streams path through algo and returns the hex digest.
func (v *ChecksumVerifier) Compute(path, algo string) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}

	f, err := v.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify hashes path and compares it with expected.
func (v *ChecksumVerifier) Verify(path, expected string) (ChecksumResult, error) {
	algo, digest, err := ParseChecksum(expected)
	if err != nil {
		return ChecksumResult{}, err
	}

	actual, err := v.Compute(path, algo)
	if err != nil {
		return ChecksumResult{}, err
	}

	return ChecksumResult{
		Algorithm: algo,
		Expected:  digest,
		Actual:    actual,
		Match:     actual == digest,
	}, nil
}
