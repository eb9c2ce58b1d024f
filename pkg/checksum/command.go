package checksum

import (
	"encoding/hex"
	"fmt"
)

// Target is the constant the nibble-weighted command checksum complements
// against: the sum of every byte in the prefixed body plus the appended
// checksum byte is congruent to Target modulo 256.
const Target = 0x55

// Append computes the command checksum for a hex-encoded body and returns
// the body with two uppercase hex digits appended. body may have even or
// odd length; an odd-length body gets a virtual leading zero nibble before
// it is regrouped into bytes.
func Append(body string) (string, error) {
	sum, err := sumPrefixedNibbles(body)
	if err != nil {
		return "", err
	}
	cs := byte(Target - sum)
	return body + fmt.Sprintf("%02X", cs), nil
}

// Verify recomputes the checksum of frame (body + two trailing hex digits)
// and reports whether it matches the trailing checksum byte.
func Verify(frame string) bool {
	if len(frame) < 2 {
		return false
	}
	body := frame[:len(frame)-2]
	want := frame[len(frame)-2:]
	got, err := Append(body)
	if err != nil {
		return false
	}
	return len(got) >= 2 && got[len(got)-2:] == want
}

// sumPrefixedNibbles prefixes body with a "0" nibble if needed so the
// combined nibble count is even, then sums the resulting bytes.
func sumPrefixedNibbles(body string) (byte, error) {
	padded := body
	if len(padded)%2 != 0 {
		padded = "0" + padded
	}
	raw, err := hex.DecodeString(padded)
	if err != nil {
		return 0, fmt.Errorf("checksum: invalid hex body %q: %w", body, err)
	}
	var sum byte
	for _, b := range raw {
		sum += b
	}
	return sum, nil
}
