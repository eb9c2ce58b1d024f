package message

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// SwapEncode renders value as a width-byte big-endian quantity and returns
// its byte-swapped (little-endian-on-the-wire) hex encoding. width must be
// 1, 2 or 4; wider values are rejected.
func SwapEncode(value uint64, width int) (string, error) {
	buf, err := bigEndianBytes(value, width)
	if err != nil {
		return "", err
	}
	reverse(buf)
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// SwapDecode is the inverse of SwapEncode: given a little-endian-on-the-wire
// hex string of the given width, it returns the big-endian value.
func SwapDecode(hexStr string, width int) (uint64, error) {
	if width != 1 && width != 2 && width != 4 {
		return 0, fmt.Errorf("message: unsupported swap width %d", width)
	}
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return 0, fmt.Errorf("message: invalid hex %q: %w", hexStr, err)
	}
	if len(raw) != width {
		return 0, fmt.Errorf("message: expected %d bytes, got %d", width, len(raw))
	}
	reverse(raw)
	switch width {
	case 1:
		return uint64(raw[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(raw)), nil
	default:
		return uint64(binary.BigEndian.Uint32(raw)), nil
	}
}

func bigEndianBytes(value uint64, width int) ([]byte, error) {
	buf := make([]byte, width)
	switch width {
	case 1:
		buf[0] = byte(value)
	case 2:
		binary.BigEndian.PutUint16(buf, uint16(value))
	case 4:
		binary.BigEndian.PutUint32(buf, uint32(value))
	default:
		return nil, fmt.Errorf("message: unsupported swap width %d", width)
	}
	return buf, nil
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
