package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"hash"

	"github.com/jmcleod/inkwell/internal/util"
)

func randomSalt() ([]byte, error) {
	return util.RandomBytes(16)
}

// ChecksumLen is the length of a content checksum.
const ChecksumLen = sha256.Size

// NewChecksum returns an incremental hasher producing the same digest as
// Checksum, for content too large to hold in memory.
func NewChecksum() hash.Hash {
	return sha256.New()
}

// Checksum computes a collision-resistant digest for integrity verification
// independent of encryption. It validates decrypted output even after a
// valid-looking decrypt (e.g. chunks reassembled in the wrong order).
func Checksum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// VerifyChecksum compares a digest in constant time.
func VerifyChecksum(data, expected []byte) bool {
	sum := sha256.Sum256(data)
	return subtle.ConstantTimeCompare(sum[:], expected) == 1
}

// SaltedHash hashes data with a fresh random salt. Used server-side so
// even the login proof is not stored raw.
func SaltedHash(data []byte) (hash, salt []byte, err error) {
	salt, err = randomSalt()
	if err != nil {
		return nil, nil, err
	}
	h := sha256.New()
	h.Write(salt)
	h.Write(data)
	return h.Sum(nil), salt, nil
}

// VerifySaltedHash compares a salted hash in constant time.
func VerifySaltedHash(hash, data, salt []byte) bool {
	h := sha256.New()
	h.Write(salt)
	h.Write(data)
	return subtle.ConstantTimeCompare(hash, h.Sum(nil)) == 1
}
