package serialization

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	fp := Fingerprint([]byte{1, 2, 3})
	assert.Len(t, fp, 12)
	assert.Equal(t, fp, Fingerprint([]byte{1, 2, 3}))
	assert.NotEqual(t, fp, Fingerprint([]byte{1, 2, 4}))

	sum := ComputeChecksum([]byte{1, 2, 3})
	assert.Equal(t, hex.EncodeToString(sum[:]), fp+hex.EncodeToString(sum[6:]))
}
