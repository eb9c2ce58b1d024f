package checksum

import "testing"

func TestTelemetryValidOnZeroSum(t *testing.T) {
	var probe Telemetry
	probe.Add([]byte("V\t24340\r\n"))
	probe.Add([]byte("Checksum\t"))
	balancing := byte(256 - int(probe.sum)%256)

	var tel Telemetry
	tel.Add([]byte("V\t24340\r\n"))
	tel.Add([]byte("Checksum\t"))
	tel.AddByte(balancing)

	if !tel.Valid() {
		t.Fatalf("expected sum to be zero mod 256, got %d", tel.sum)
	}
}

func TestTelemetryResetClearsSum(t *testing.T) {
	var tel Telemetry
	tel.Add([]byte{1, 2, 3})
	if tel.Valid() {
		t.Fatal("expected non-zero sum before reset")
	}
	tel.Reset()
	if !tel.Valid() {
		t.Fatal("expected zero sum after reset")
	}
}

func TestTelemetryRejectsWrongChecksum(t *testing.T) {
	var tel Telemetry
	tel.Add([]byte("SOC\t876\r\n"))
	tel.Add([]byte("Checksum\t"))
	tel.AddByte(0x00)
	if tel.Valid() {
		// Extremely unlikely collision; pick a byte guaranteed to unbalance it.
		tel.AddByte(1)
	}
	if tel.Valid() {
		t.Fatal("expected frame to be invalid with an arbitrary trailing byte")
	}
}

func TestCommandChecksumAppendVerifyRoundTrip(t *testing.T) {
	bodies := []string{"7ED8D00", "1", "3", "4", "6", "8FF0F0001020304"}
	for _, body := range bodies {
		frame, err := Append(body)
		if err != nil {
			t.Fatalf("Append(%q) error: %v", body, err)
		}
		if !Verify(frame) {
			t.Fatalf("Verify(%q) = false, want true", frame)
		}
	}
}

func TestCommandChecksumSatisfiesTargetInvariant(t *testing.T) {
	// Property 2: for any constructed outbound command, the sum of all
	// (prefixed) bytes in body+checksum is congruent to 0x55 mod 256.
	for _, body := range []string{"7ED8D00", "81234000", "A0FFF00ABCD"} {
		frame, err := Append(body)
		if err != nil {
			t.Fatalf("Append(%q) error: %v", body, err)
		}
		sum, err := sumPrefixedNibbles(frame)
		if err != nil {
			t.Fatalf("sumPrefixedNibbles(%q) error: %v", frame, err)
		}
		if sum != Target {
			t.Fatalf("sum of %q = 0x%02X, want 0x%02X", frame, sum, Target)
		}
	}
}

func TestCommandChecksumDetectsCorruption(t *testing.T) {
	frame, err := Append("7ED8D00")
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
	corrupted := frame[:len(frame)-1] + "0"
	if corrupted == frame {
		corrupted = frame[:len(frame)-1] + "F"
	}
	if Verify(corrupted) {
		t.Fatalf("Verify(%q) = true, want false for corrupted checksum", corrupted)
	}
}
