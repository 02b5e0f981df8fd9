package stream

import (
	"fmt"

	icrypto "github.com/jmcleod/inkwell/internal/crypto"
	"github.com/jmcleod/inkwell/internal/util"
)

// Chunk describes one independently encrypted slice of an attachment. The
// ciphertext itself lives in the blob store under Locator; the metadata
// here is what attachment records carry.
type Chunk struct {
	Index     uint64 `json:"index"`
	Locator   string `json:"locator"`
	PlainSize int    `json:"plain_size"`
}

// Manifest is the ordered chunk sequence for one attachment, plus the
// whole-file checksum of the plaintext. All chunks share one per-file key;
// each has its own nonce.
type Manifest struct {
	FileID   string  `json:"file_id"`
	Chunks   []Chunk `json:"chunks"`
	Checksum []byte  `json:"checksum"`
	Size     int64   `json:"size"`
}

// EncryptChunk seals one chunk under the per-file key. The stored form is
// nonce || ciphertext; the AAD binds the chunk to its file and index so a
// blob cannot be replayed at another position.
func EncryptChunk(fileID string, index uint64, fileKey, plaintext []byte) ([]byte, error) {
	nonce, ciphertext, err := util.SealAESGCM(plaintext, fileKey, icrypto.AADChunk(fileID, index))
	if err != nil {
		return nil, fmt.Errorf("encrypting chunk %d: %w", index, err)
	}
	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	return append(out, ciphertext...), nil
}

// DecryptChunk opens one stored chunk blob. Chunks are independently
// decryptable: a lost or corrupt sibling never blocks this one, which is
// what makes partial and resumable downloads possible.
func DecryptChunk(fileID string, index uint64, fileKey, blob []byte) ([]byte, error) {
	if len(blob) < util.GCMNonceSize {
		return nil, fmt.Errorf("chunk %d: blob shorter than nonce", index)
	}
	plaintext, err := util.OpenAESGCM(blob[:util.GCMNonceSize], blob[util.GCMNonceSize:], fileKey, icrypto.AADChunk(fileID, index))
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", index, err)
	}
	return plaintext, nil
}
