package verify

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Algorithm names a digest algorithm.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
	SHA1   Algorithm = "sha1"
)

// ErrChecksumMismatch is returned when a file does not match its expected digest.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ComputeChecksum computes the checksum of a file using the specified algorithm
func ComputeChecksum(filePath string, algorithm Algorithm) (string, error) {
	var h hash.Hash
	switch algorithm {
	case SHA256:
		h = sha256.New()
	case SHA512:
		h = sha512.New()
	case SHA1:
		h = sha1.New()
	default:
		return "", fmt.Errorf("unsupported algorithm: %s", algorithm)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return "", errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	if _, err := io.Copy(h, file); err != nil {
		return "", errors.Wrap(err, "failed to compute checksum")
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum verifies that a file matches the expected checksum.
// An empty expectation always passes.
func VerifyChecksum(filePath, expectedHash string, algorithm Algorithm) error {
	expectedHash = strings.TrimSpace(expectedHash)
	if expectedHash == "" {
		return nil
	}

	computedHash, err := ComputeChecksum(filePath, algorithm)
	if err != nil {
		return err
	}

	// Compare case-insensitively
	if !strings.EqualFold(computedHash, expectedHash) {
		return errors.Wrapf(ErrChecksumMismatch, "expected %s, got %s", expectedHash, computedHash)
	}

	return nil
}
