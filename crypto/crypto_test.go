package crypto

import (
	"bytes"
	"errors"
	"testing"
)

// testKDFParams keeps derivation fast in tests. Production parameters are
// enforced at registration time via ValidatePBKDF2Params.
func testKDFParams() PBKDF2Params {
	p := DefaultPBKDF2Params()
	p.Iterations = 1000
	return p
}

func TestEnvelopeRoundTrip(t *testing.T) {
	key, err := NewSymmetricKey()
	if err != nil {
		t.Fatalf("NewSymmetricKey failed: %v", err)
	}
	plaintext := []byte("the quick brown fox")
	aad := []byte("note:1234")

	env, err := Encrypt(plaintext, key, aad)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if len(env.Nonce) != 12 {
		t.Errorf("expected 12-byte nonce, got %d", len(env.Nonce))
	}

	got, err := Decrypt(env, key, aad)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(plaintext, got) {
		t.Errorf("expected %q, got %q", plaintext, got)
	}
}

func TestEnvelopeTamperDetection(t *testing.T) {
	key, _ := NewSymmetricKey()
	plaintext := []byte("sensitive note body")
	env, err := Encrypt(plaintext, key, nil)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Flipping any single ciphertext (or tag) byte must surface
	// ErrIntegrity, never altered plaintext.
	for i := range env.Ciphertext {
		tampered := env.Clone()
		tampered.Ciphertext[i] ^= 0x01
		got, err := Decrypt(tampered, key, nil)
		if err == nil {
			t.Fatalf("byte %d: expected error, got plaintext %q", i, got)
		}
		if !errors.Is(err, ErrIntegrity) {
			t.Fatalf("byte %d: expected ErrIntegrity, got %v", i, err)
		}
	}

	t.Run("TamperedNonce", func(t *testing.T) {
		tampered := env.Clone()
		tampered.Nonce[0] ^= 0x01
		if _, err := Decrypt(tampered, key, nil); !errors.Is(err, ErrIntegrity) {
			t.Errorf("expected ErrIntegrity, got %v", err)
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		other, _ := NewSymmetricKey()
		if _, err := Decrypt(env, other, nil); !errors.Is(err, ErrIntegrity) {
			t.Errorf("expected ErrIntegrity, got %v", err)
		}
	})

	t.Run("WrongVersion", func(t *testing.T) {
		bad := env.Clone()
		bad.Ver = 2
		if _, err := Decrypt(bad, key, nil); err == nil {
			t.Error("expected error for unsupported version")
		}
	})
}

func TestPassphraseEnvelope(t *testing.T) {
	opt := WithPBKDF2Params(testKDFParams())
	plaintext := []byte("exported identity key")
	aad := []byte("identity:v1")

	env, err := EncryptWithPassphrase(plaintext, "hunter2", aad, opt)
	if err != nil {
		t.Fatalf("EncryptWithPassphrase failed: %v", err)
	}
	if env.KDF == nil {
		t.Fatal("passphrase envelope must record its KDF parameters")
	}
	if len(env.KDF.Salt) != SaltLen {
		t.Errorf("expected %d-byte salt, got %d", SaltLen, len(env.KDF.Salt))
	}
	if env.KDF.Iterations != testKDFParams().Iterations {
		t.Errorf("expected %d iterations recorded, got %d", testKDFParams().Iterations, env.KDF.Iterations)
	}

	got, err := DecryptWithPassphrase(env, "hunter2", aad)
	if err != nil {
		t.Fatalf("DecryptWithPassphrase failed: %v", err)
	}
	if !bytes.Equal(plaintext, got) {
		t.Errorf("expected %q, got %q", plaintext, got)
	}

	t.Run("WrongPassphrase", func(t *testing.T) {
		if _, err := DecryptWithPassphrase(env, "hunter3", aad); !errors.Is(err, ErrIntegrity) {
			t.Errorf("expected ErrIntegrity, got %v", err)
		}
	})

	t.Run("MissingParams", func(t *testing.T) {
		bare := env.Clone()
		bare.KDF = nil
		if _, err := DecryptWithPassphrase(bare, "hunter2", aad); err == nil {
			t.Error("expected error for envelope without KDF parameters")
		}
	})

	t.Run("CloneCopiesParams", func(t *testing.T) {
		cp := env.Clone()
		cp.KDF.Salt[0] ^= 0x01
		if env.KDF.Salt[0] == cp.KDF.Salt[0] {
			t.Error("clone must deep-copy the KDF salt")
		}
	})
}

func TestDeriveMasterKey(t *testing.T) {
	opt := WithPBKDF2Params(testKDFParams())

	key1, salt, err := DeriveMasterKey("hunter2", nil, opt)
	if err != nil {
		t.Fatalf("DeriveMasterKey failed: %v", err)
	}
	if len(key1) != MasterKeyLen {
		t.Errorf("expected %d-byte key, got %d", MasterKeyLen, len(key1))
	}
	if len(salt) != SaltLen {
		t.Errorf("expected %d-byte generated salt, got %d", SaltLen, len(salt))
	}

	t.Run("Deterministic", func(t *testing.T) {
		key2, salt2, err := DeriveMasterKey("hunter2", salt, opt)
		if err != nil {
			t.Fatalf("DeriveMasterKey failed: %v", err)
		}
		if !bytes.Equal(key1, key2) {
			t.Error("same passphrase + salt must derive identical keys")
		}
		if !bytes.Equal(salt, salt2) {
			t.Error("provided salt must be returned unchanged")
		}
	})

	t.Run("SaltVariesKey", func(t *testing.T) {
		key3, _, _ := DeriveMasterKey("hunter2", nil, opt)
		if bytes.Equal(key1, key3) {
			t.Error("fresh salt must derive a different key")
		}
	})

	t.Run("NormalizedPassphrase", func(t *testing.T) {
		// U+00E9 vs e + combining acute: NFKD makes them equivalent.
		a, _, _ := DeriveMasterKey("café", salt, opt)
		b, _, _ := DeriveMasterKey("café", salt, opt)
		if !bytes.Equal(a, b) {
			t.Error("equivalent unicode passphrases must derive the same key")
		}
	})
}

func TestDeriveAuthProof(t *testing.T) {
	opt := WithPBKDF2Params(testKDFParams())
	key, salt, err := DeriveMasterKey("hunter2", nil, opt)
	if err != nil {
		t.Fatalf("DeriveMasterKey failed: %v", err)
	}

	proof, err := DeriveAuthProof("hunter2", salt, opt)
	if err != nil {
		t.Fatalf("DeriveAuthProof failed: %v", err)
	}
	if len(proof) != AuthProofLen {
		t.Errorf("expected %d-byte proof, got %d", AuthProofLen, len(proof))
	}
	if bytes.Equal(proof, key) {
		t.Error("auth proof must not equal the master key")
	}

	proof2, _ := DeriveAuthProof("hunter2", salt, opt)
	if !bytes.Equal(proof, proof2) {
		t.Error("auth proof must be deterministic")
	}

	if _, err := DeriveAuthProof("hunter2", nil, opt); err == nil {
		t.Error("expected error deriving proof without a salt")
	}
}

func TestChecksum(t *testing.T) {
	data := []byte("attachment bytes")
	sum := Checksum(data)
	if len(sum) != ChecksumLen {
		t.Errorf("expected %d-byte checksum, got %d", ChecksumLen, len(sum))
	}
	if !VerifyChecksum(data, sum) {
		t.Error("checksum must verify against original data")
	}
	if VerifyChecksum([]byte("attachment bytez"), sum) {
		t.Error("checksum must not verify against altered data")
	}
}

func TestGenerateKeyPair(t *testing.T) {
	a, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	b, _ := GenerateKeyPair()
	if a.Public == b.Public {
		t.Error("expected distinct generated key pairs")
	}
}
