package model

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Sample #4 of the NIST SP 800-185 KMAC examples.
func TestKMAC256Sample(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = 0x40 + byte(i)
	}
	want, err := hex.DecodeString("20c570c31346f703c9ac36c61c03cb64c3970d0cfc787e9b79599d273a68d2f7" +
		"f69d4cc3de9d104a351689f27cf6f5951f0103f33f4f24871024d9c27773a8dd")
	require.NoError(t, err)
	assert.Equal(t, want, kmac256(key, []byte{0, 1, 2, 3}, 64, "My Tagged Application"))
}

func TestEncodings(t *testing.T) {
	assert.Equal(t, []byte{1, 0}, leftEncode(0))
	assert.Equal(t, []byte{2, 1, 0}, leftEncode(256))
	assert.Equal(t, []byte{0, 1}, rightEncode(0))
	assert.Equal(t, []byte{1, 0, 2}, rightEncode(256))
	assert.Len(t, bytepad([]byte{1, 2, 3}, 136), 136)
}
