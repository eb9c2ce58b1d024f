// Package checksum implements the two framing disciplines the device uses:
// the telemetry frame's running byte sum, and the command/response nibble
// checksum against 0x55.
package checksum

// Telemetry accumulates the unsigned byte sum of one telemetry frame. A
// frame is valid iff the sum is zero (see Valid). The leading CR/LF the line reader
// strips, every tab, every line terminator and the "Checksum\t" token plus
// its trailing byte all count toward the sum - callers feed every raw byte
// that belonged to the wire frame, not just the parsed fields.
type Telemetry struct {
	sum byte
}

// Add accumulates the given bytes into the running sum.
func (t *Telemetry) Add(b []byte) {
	for _, c := range b {
		t.sum += c
	}
}

// AddByte accumulates a single byte.
func (t *Telemetry) AddByte(b byte) {
	t.sum += b
}

// Valid reports whether the accumulated sum is zero modulo 256.
func (t *Telemetry) Valid() bool {
	return t.sum == 0
}

// Reset clears the accumulator. Called after every completed frame,
// successful or not.
func (t *Telemetry) Reset() {
	t.sum = 0
}
