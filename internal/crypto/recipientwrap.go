package icrypto

import (
	"crypto/rand"
	"fmt"

	"github.com/jmcleod/inkwell/internal/util"
)

const wrapInfo = "inkwell:disclosure-wrap:v1"

// SealedWrap holds a symmetric key sealed to a recipient's X25519 public key.
type SealedWrap struct {
	Ver        int      `json:"ver"`
	EphPub     [32]byte `json:"eph_pub"`
	Salt       []byte   `json:"salt"`
	Nonce      []byte   `json:"nonce"`
	Ciphertext []byte   `json:"ciphertext"`
}

// SealToRecipient encrypts a symmetric key to a recipient's X25519 public
// key using ephemeral ECDH + HKDF + AES-256-GCM. The sender needs no
// long-lived key material, so a key can be wrapped by a party that does not
// hold the recipient's master key.
func SealToRecipient(recipientPub [32]byte, key []byte, aad []byte) (*SealedWrap, error) {
	kp, err := util.GenerateX25519Keypair()
	if err != nil {
		return nil, err
	}
	defer util.WipeArray32(&kp.Private)

	shared, err := util.SharedSecret(kp.Private, recipientPub)
	if err != nil {
		return nil, err
	}
	defer util.WipeArray32(&shared)

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	wrapKey, err := util.HKDF(shared[:], salt, []byte(wrapInfo))
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(wrapKey)

	nonce, ciphertext, err := util.SealAESGCM(key, wrapKey, aad)
	if err != nil {
		return nil, err
	}

	return &SealedWrap{
		Ver:        1,
		EphPub:     kp.Public,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

// OpenFromRecipient recovers a symmetric key using the recipient's X25519
// private key.
func OpenFromRecipient(recipientPriv [32]byte, wrap *SealedWrap, aad []byte) ([]byte, error) {
	if wrap.Ver != 1 {
		return nil, fmt.Errorf("unsupported sealed wrap version: %d", wrap.Ver)
	}

	shared, err := util.SharedSecret(recipientPriv, wrap.EphPub)
	if err != nil {
		return nil, err
	}
	defer util.WipeArray32(&shared)

	wrapKey, err := util.HKDF(shared[:], wrap.Salt, []byte(wrapInfo))
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(wrapKey)

	return util.OpenAESGCM(wrap.Nonce, wrap.Ciphertext, wrapKey, aad)
}
