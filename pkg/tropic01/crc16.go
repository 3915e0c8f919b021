package tropic01

import "github.com/sigurn/crc16"

// crcTable holds CRC-16/BUYPASS: polynomial 0x8005, initial value 0, no
// reflection and no final XOR. Frames carry the result little-endian.
var crcTable = crc16.MakeTable(crc16.CRC16_BUYPASS)

// CRC16 computes the L2 frame checksum.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}
