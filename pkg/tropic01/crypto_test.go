package tropic01

import (
	"crypto/ecdh"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceIVLayout(t *testing.T) {
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01, 0, 0, 0, 0, 0, 0, 0, 0}, nonceIV(0x01020304))
}

func TestKeyScheduleAgreesOnBothEnds(t *testing.T) {
	x := ecdh.X25519()
	sh, err := x.GenerateKey(rand.Reader)
	require.NoError(t, err)
	st, err := x.GenerateKey(rand.Reader)
	require.NoError(t, err)
	eh, err := x.GenerateKey(rand.Reader)
	require.NoError(t, err)
	et, err := x.GenerateKey(rand.Reader)
	require.NoError(t, err)

	dh := func(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) []byte {
		t.Helper()
		s, err := X25519(priv, pub)
		require.NoError(t, err)
		return s
	}

	hostKeys, err := KeySchedule(dh(eh, et.PublicKey()), dh(sh, et.PublicKey()), dh(eh, st.PublicKey()))
	require.NoError(t, err)
	chipKeys, err := KeySchedule(dh(et, eh.PublicKey()), dh(et, sh.PublicKey()), dh(st, eh.PublicKey()))
	require.NoError(t, err)
	assert.Equal(t, hostKeys, chipKeys)
	assert.NotEqual(t, hostKeys.Cmd, hostKeys.Res)

	h := TranscriptHash(sh.PublicKey().Bytes(), st.PublicKey().Bytes(), eh.PublicKey().Bytes(), 1, et.PublicKey().Bytes())
	tag, err := HandshakeTag(hostKeys.Auth, h)
	require.NoError(t, err)
	assert.Len(t, tag, TagSize)

	other := TranscriptHash(sh.PublicKey().Bytes(), st.PublicKey().Bytes(), eh.PublicKey().Bytes(), 2, et.PublicKey().Bytes())
	otherTag, err := HandshakeTag(hostKeys.Auth, other)
	require.NoError(t, err)
	assert.NotEqual(t, tag, otherTag, "slot is bound into the transcript")
}

func TestEnvelopeSealOpen(t *testing.T) {
	key := make([]byte, KeySize)
	_, _ = rand.Read(key)
	aead, err := NewAEAD(key)
	require.NoError(t, err)

	env, err := SealEnvelope(aead, 7, []byte{byte(CmdPing), 'h', 'i'})
	require.NoError(t, err)
	require.Len(t, env, 2+3+TagSize)
	assert.Equal(t, []byte{3, 0}, env[:2])

	pt, err := OpenEnvelope(aead, 7, env)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(CmdPing), 'h', 'i'}, pt)

	_, err = OpenEnvelope(aead, 8, env)
	require.ErrorIs(t, err, ErrAuthenticationFailed, "wrong counter")

	env[len(env)-1] ^= 1
	_, err = OpenEnvelope(aead, 7, env)
	require.ErrorIs(t, err, ErrAuthenticationFailed)

	_, err = OpenEnvelope(aead, 7, env[:len(env)-1])
	require.ErrorIs(t, err, ErrFrameCorrupt)
}

func TestSessionCountersAdvanceOnlyOnSuccess(t *testing.T) {
	keys := &SessionKeys{Cmd: make([]byte, KeySize), Res: make([]byte, KeySize)}
	keys.Res[0] = 1
	var s Session
	require.NoError(t, s.beginHandshake())
	require.ErrorIs(t, s.beginHandshake(), ErrSessionBusy)
	require.NoError(t, s.establish(2, keys))
	s.endHandshake()
	assert.Equal(t, SessionEstablished, s.State())

	_, ctr, err := s.seal([]byte{byte(CmdPing)})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), ctr)
	_, ctr, err = s.seal([]byte{byte(CmdPing)})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), ctr, "seal alone does not burn a nonce")
	s.commitSend()
	send, recv := s.Counters()
	assert.Equal(t, uint32(1), send)
	assert.Equal(t, uint32(0), recv)

	chip, err := NewAEAD(keys.Res)
	require.NoError(t, err)
	good, err := SealEnvelope(chip, 0, []byte{byte(ResultOK)})
	require.NoError(t, err)
	_, err = s.open(good)
	require.NoError(t, err)
	_, recv = s.Counters()
	assert.Equal(t, uint32(1), recv)

	replay, err := SealEnvelope(chip, 0, []byte{byte(ResultOK)})
	require.NoError(t, err)
	_, err = s.open(replay)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, SessionAborted, s.State())

	_, _, err = s.seal([]byte{byte(CmdPing)})
	require.ErrorIs(t, err, ErrNoSession)
}
