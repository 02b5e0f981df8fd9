package keyring

import (
	"fmt"

	"github.com/jmcleod/inkwell/crypto"
	"github.com/jmcleod/inkwell/internal/util"
)

// Profile captures the KDF settings a principal's keys derive from. It is
// stored server-side (it contains no secrets) so that a new device can
// re-derive the identical master key from the passphrase alone.
type Profile struct {
	Salt   []byte              `json:"salt"`
	Params crypto.PBKDF2Params `json:"params"`
}

// NewProfile creates a profile with a fresh random salt and production
// derivation parameters.
func NewProfile() (Profile, error) {
	salt, err := util.RandomBytes(crypto.SaltLen)
	if err != nil {
		return Profile{}, fmt.Errorf("generating profile salt: %w", err)
	}
	return Profile{
		Salt:   salt,
		Params: crypto.DefaultPBKDF2Params(),
	}, nil
}

// Validate checks the profile meets minimum derivation strength.
func (p Profile) Validate() error {
	if len(p.Salt) == 0 {
		return fmt.Errorf("profile salt must not be empty")
	}
	return crypto.ValidatePBKDF2Params(p.Params)
}

// Clone returns a deep copy of the profile.
func (p Profile) Clone() Profile {
	return Profile{
		Salt:   util.CopyBytes(p.Salt),
		Params: p.Params,
	}
}
