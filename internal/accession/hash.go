package accession

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/minio/sha256-simd"
	"github.com/zeebo/blake3"
)

// HashFunc turns a model summary into the key used to detect duplicates.
type HashFunc func(summary string) string

func Identity(summary string) string {
	return summary
}

func SHA1(summary string) string {
	sum := sha1.Sum([]byte(summary))
	return hex.EncodeToString(sum[:])
}

func SHA256(summary string) string {
	sum := sha256.Sum256([]byte(summary))
	return hex.EncodeToString(sum[:])
}

func Blake3(summary string) string {
	sum := blake3.Sum256([]byte(summary))
	return hex.EncodeToString(sum[:])
}
