package icrypto

import (
	"encoding/binary"
)

const (
	aadChunk       = "CHUNK"
	aadFileKeyWrap = "FILEKEYWRAP"
	aadGrant       = "GRANT"
	aadIdentity    = "IDENTITY"
)

// AADChunk binds an encrypted chunk to its file and position so a chunk
// cannot be replayed into another file or swapped with a sibling.
func AADChunk(fileID string, index uint64) []byte {
	return buildAAD(aadChunk, fileID, index)
}

// AADFileKeyWrap binds a wrapped per-file key to its file.
func AADFileKeyWrap(fileID string, ver int) []byte {
	return buildAAD(aadFileKeyWrap, fileID, ver)
}

// AADGrant binds a share grant payload to its grant ID.
func AADGrant(grantID string, ver int) []byte {
	return buildAAD(aadGrant, grantID, ver)
}

// AADIdentity binds an exported identity key to the export format version.
func AADIdentity(ver int) []byte {
	return buildAAD(aadIdentity, ver)
}

func buildAAD(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case []byte:
			res = appendLenPrefix(res, v)
		case uint64:
			b := make([]byte, 8)
			binary.BigEndian.PutUint64(b, v)
			res = append(res, b...)
		case int:
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, uint32(v))
			res = append(res, b...)
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	l := make([]byte, 4)
	binary.BigEndian.PutUint32(l, uint32(len(data)))
	b = append(b, l...)
	b = append(b, data...)
	return b
}
