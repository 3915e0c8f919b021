package tropic01

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16CheckValue(t *testing.T) {
	assert.Equal(t, uint16(0xFEE8), CRC16([]byte("123456789")))
	assert.Equal(t, uint16(0), CRC16(nil))
}

func TestRequestRoundTrip(t *testing.T) {
	req := Request{ID: ReqGetInfo, Data: []byte{InfoChipID, 0}}
	frame, err := EncodeRequest(req)
	require.NoError(t, err)
	require.Len(t, frame, 6)
	assert.Equal(t, []byte{ReqGetInfo, 2, InfoChipID, 0}, frame[:4])

	got, err := DecodeRequest(frame)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestRequestShapeEnforced(t *testing.T) {
	_, err := EncodeRequest(Request{ID: ReqHandshake, Data: make([]byte, 32)})
	require.ErrorIs(t, err, ErrInvalidParameter)

	_, err = EncodeRequest(Request{ID: ReqEncryptedCmd, Data: make([]byte, ChunkSize+1)})
	require.ErrorIs(t, err, ErrInvalidParameter)

	require.NoError(t, CheckRequestShape(ReqResend, 0))
	require.Error(t, CheckRequestShape(ReqResend, 1))
}

func TestResponseSingleBitCorruptionDetected(t *testing.T) {
	frame, err := EncodeResponse(Response{ChipStatus: ChipStatusReady, Status: StatusResultOK, Data: []byte("hello chip")})
	require.NoError(t, err)

	resp, err := DecodeResponse(frame)
	require.NoError(t, err)
	assert.Equal(t, StatusResultOK, resp.Status)
	assert.Equal(t, []byte("hello chip"), resp.Data)

	// The chip status byte is outside the checksum; every other bit is covered.
	for i := 1; i < len(frame); i++ {
		for bit := 0; bit < 8; bit++ {
			bad := append([]byte(nil), frame...)
			bad[i] ^= 1 << bit
			_, err := DecodeResponse(bad)
			require.ErrorIs(t, err, ErrFrameCorrupt, "byte %d bit %d", i, bit)
		}
	}
	bad := append([]byte(nil), frame...)
	bad[0] ^= ChipStatusStartup
	_, err = DecodeResponse(bad)
	require.NoError(t, err)
}

func TestDecodeRequestRejectsBadCRC(t *testing.T) {
	frame, err := EncodeRequest(Request{ID: ReqSleep, Data: []byte{SleepKindSleep}})
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0x80
	_, err = DecodeRequest(frame)
	require.ErrorIs(t, err, ErrFrameCorrupt)
}

func TestEncodeResponseLimit(t *testing.T) {
	_, err := EncodeResponse(Response{Status: StatusResultCon, Data: make([]byte, ChunkSize+1)})
	require.ErrorIs(t, err, ErrInvalidParameter)

	frame, err := EncodeResponse(Response{Status: StatusResultCon, Data: make([]byte, ChunkSize)})
	require.NoError(t, err)
	assert.Len(t, frame, MaxFrameSize)
}
