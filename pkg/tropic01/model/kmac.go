package model

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// kmac256 implements KMAC256 (NIST SP 800-185) on top of cSHAKE256.
func kmac256(key, data []byte, outLen int, custom string) []byte {
	h := sha3.NewCShake256([]byte("KMAC"), []byte(custom))
	h.Write(bytepad(encodeString(key), 136))
	h.Write(data)
	h.Write(rightEncode(uint64(outLen) * 8))
	out := make([]byte, outLen)
	h.Read(out)
	return out
}

func leftEncode(x uint64) []byte {
	var b [9]byte
	binary.BigEndian.PutUint64(b[1:], x)
	i := 1
	for i < 8 && b[i] == 0 {
		i++
	}
	b[i-1] = byte(9 - i)
	return b[i-1:]
}

func rightEncode(x uint64) []byte {
	var b [9]byte
	binary.BigEndian.PutUint64(b[:8], x)
	i := 0
	for i < 7 && b[i] == 0 {
		i++
	}
	b[8] = byte(8 - i)
	return b[i:]
}

func encodeString(s []byte) []byte {
	return append(leftEncode(uint64(len(s))*8), s...)
}

func bytepad(x []byte, w int) []byte {
	out := append(leftEncode(uint64(w)), x...)
	for len(out)%w != 0 {
		out = append(out, 0)
	}
	return out
}
