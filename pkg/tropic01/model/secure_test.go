package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

func TestEmptyEnvelopeIsInvalidCommand(t *testing.T) {
	chip, err := New()
	require.NoError(t, err)
	aead, err := tropic01.NewAEAD(make([]byte, 32))
	require.NoError(t, err)
	chip.sess = &channel{dec: aead, enc: aead}

	// size prefix of zero, then only the tag
	envelope := aead.Seal([]byte{0, 0}, make([]byte, tropic01.IVSize), nil, nil)
	require.NotPanics(t, func() { chip.encryptedCmd(envelope) })

	require.Len(t, chip.queue, 2)
	assert.Equal(t, byte(tropic01.StatusRequestOK), chip.queue[0][0])
	result := chip.queue[1]
	require.Equal(t, byte(tropic01.StatusResultOK), result[0])
	plaintext, err := tropic01.OpenEnvelope(aead, 0, result[2:2+int(result[1])])
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(tropic01.ResultInvalidCmd)}, plaintext)
	assert.True(t, chip.SessionActive())
}
