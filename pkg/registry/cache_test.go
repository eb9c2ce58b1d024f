package registry

import (
	"testing"
	"time"
)

func newTestCache() *Cache {
	c := NewCache()
	c.Register(&Descriptor{TelemetryKey: "V", NativeToUnitFactor: 0.001, Precision: 3})
	c.Register(&Descriptor{TelemetryKey: "I", NativeToUnitFactor: 0.001, Precision: 3})
	c.Register(&Descriptor{TelemetryKey: "SOC", NativeToUnitFactor: 0.1, Precision: 1})
	c.Register(&Descriptor{TelemetryKey: "Relay"})
	return c
}

// TestFrameCommit is scenario S3: staging four telemetry values and
// committing must produce exactly those four values and a single
// ChangeList dispatch naming all four.
func TestFrameCommit(t *testing.T) {
	c := newTestCache()

	var dispatches int
	var lastChanges map[string]Change
	c.AddChangeListListener(func(changes map[string]Change, ts time.Time) {
		dispatches++
		lastChanges = changes
	})

	c.StageTelemetryValue("V", "24340")
	c.StageTelemetryValue("I", "-500")
	c.StageTelemetryValue("SOC", "876")
	c.StageTelemetryValue("Relay", "ON")

	c.CommitAndDispatch(time.Unix(0, 0))

	if dispatches != 1 {
		t.Fatalf("ChangeList dispatched %d times, want 1", dispatches)
	}
	if len(lastChanges) != 4 {
		t.Fatalf("ChangeList reported %d changes, want 4: %+v", len(lastChanges), lastChanges)
	}

	checkValue(t, c, "V", int64(24340))
	checkValue(t, c, "I", int64(-500))
	checkValue(t, c, "SOC", int64(876))
	checkValue(t, c, "Relay", "ON")
}

func checkValue(t *testing.T, c *Cache, key string, want any) {
	t.Helper()
	d, ok := c.LookupByKey(key)
	if !ok {
		t.Fatalf("descriptor %s not found", key)
	}
	if d.Value != want {
		t.Errorf("%s value = %v, want %v", key, d.Value, want)
	}
}

// TestFrameRejectLeavesValuesUntouched is scenario S4: a caller that
// detects a bad frame checksum must call DiscardStaged instead of
// CommitAndDispatch, and no descriptor may change.
func TestFrameRejectLeavesValuesUntouched(t *testing.T) {
	c := newTestCache()
	c.StageTelemetryValue("V", "24340")
	c.StageTelemetryValue("I", "-500")
	c.StageTelemetryValue("SOC", "876")
	c.StageTelemetryValue("Relay", "ON")

	var dispatches int
	c.AddChangeListListener(func(changes map[string]Change, ts time.Time) {
		dispatches++
	})

	c.DiscardStaged()

	if dispatches != 0 {
		t.Fatalf("ChangeList dispatched %d times, want 0", dispatches)
	}
	for _, key := range []string{"V", "I", "SOC", "Relay"} {
		d, _ := c.LookupByKey(key)
		if d.Value != nil {
			t.Errorf("%s value = %v, want nil (untouched)", key, d.Value)
		}
		if d.NewValue != nil {
			t.Errorf("%s newValue = %v, want nil after discard", key, d.NewValue)
		}
	}
}

// TestCommitDispatchesExactlyChangedSet is universal property 1: the set of
// descriptors whose value actually changed equals the set reported to
// ChangeList listeners, across two successive frames.
func TestCommitDispatchesExactlyChangedSet(t *testing.T) {
	c := newTestCache()

	var reported map[string]Change
	c.AddChangeListListener(func(changes map[string]Change, ts time.Time) {
		reported = changes
	})

	c.StageTelemetryValue("V", "100")
	c.StageTelemetryValue("I", "1")
	c.CommitAndDispatch(time.Unix(0, 0))
	if len(reported) != 2 {
		t.Fatalf("first commit reported %d changes, want 2", len(reported))
	}

	// Second frame only moves I; V restates the same value and must not
	// be reported even though it was staged.
	c.StageTelemetryValue("V", "100")
	c.StageTelemetryValue("I", "50")
	c.CommitAndDispatch(time.Unix(1, 0))

	if _, ok := reported["V"]; ok {
		t.Errorf("V restated with no change should not appear in ChangeList, got %+v", reported)
	}
	change, ok := reported["I"]
	if !ok {
		t.Fatalf("I changed but was not reported: %+v", reported)
	}
	if change.OldFormatted == change.NewFormatted {
		t.Errorf("I change reported identical old/new formatted values %q", change.OldFormatted)
	}
}

// TestRejectedFrameNeverMutatesValue is universal property 3: for a frame
// whose checksum failed, no descriptor's committed value may be mutated -
// staged data must be discarded, not committed.
func TestRejectedFrameNeverMutatesValue(t *testing.T) {
	c := newTestCache()
	d, _ := c.LookupByKey("SOC")
	d.Value = int64(500) // pretend a prior good frame already set this

	c.StageTelemetryValue("SOC", "999")
	c.DiscardStaged()

	if d.Value != int64(500) {
		t.Errorf("SOC value mutated by rejected frame: got %v, want 500", d.Value)
	}
	if d.NewValue != nil {
		t.Errorf("SOC newValue not cleared by discard: got %v", d.NewValue)
	}
}

// TestReentrantCommitLoopSeesListenerStagedValues exercises the re-entrant
// commit loop: a listener on V stages a new value for I, which must still
// be picked up and committed within the same CommitAndDispatch call.
func TestReentrantCommitLoopSeesListenerStagedValues(t *testing.T) {
	c := newTestCache()
	i, _ := c.LookupByKey("I")
	v, _ := c.LookupByKey("V")
	v.Listeners = append(v.Listeners, func(newFormatted, oldFormatted string, ts time.Time, key string) {
		i.NewValue = int64(42)
	})

	c.StageTelemetryValue("V", "1")
	c.CommitAndDispatch(time.Unix(0, 0))

	if i.Value != int64(42) {
		t.Errorf("re-entrant staged value not committed: I = %v, want 42", i.Value)
	}
}

// TestRegisterDynamicIsIdempotent ensures an unknown telemetry key is only
// registered once even if staged repeatedly.
func TestRegisterDynamicIsIdempotent(t *testing.T) {
	c := NewCache()
	c.StageTelemetryValue("Unknown", "7")
	c.StageTelemetryValue("Unknown", "9")
	if len(c.all) != 1 {
		t.Fatalf("expected exactly one dynamic descriptor, got %d", len(c.all))
	}
}
