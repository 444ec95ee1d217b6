package serialization

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeChecksum computes SHA-256 checksum of data.
func ComputeChecksum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Fingerprint is the first 6 bytes of the checksum of data, hex encoded. Kernel keys are
// logged and labelled by it.
func Fingerprint(data []byte) string {
	sum := ComputeChecksum(data)
	return hex.EncodeToString(sum[:6])
}
