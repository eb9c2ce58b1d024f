// Package registry implements the register descriptor cache: three
// parallel indexes (address, telemetry key, human name) over one set of
// descriptors, staged/committed values, and change-detection dispatch.
package registry

import (
	"fmt"
	"time"
)

// ChangeListener is a per-descriptor change callback.
type ChangeListener func(newFormatted, oldFormatted string, frameTimestamp time.Time, key string)

// ChangeListListener is a subscriber to the aggregated per-frame change set.
type ChangeListListener func(changes map[string]Change, frameTimestamp time.Time)

// Change describes one descriptor whose committed value actually changed.
type Change struct {
	Key          string
	OldFormatted string
	NewFormatted string
}

// Formatter renders a raw value (int64, float64 or string) for display.
type Formatter func(value any) string

// Descriptor mirrors one device register (CacheObject in the protocol
// description). There is no constructor: callers build it as a struct
// literal and hand it to Cache.Register.
type Descriptor struct {
	Address      uint16
	HasAddress   bool
	TelemetryKey string
	HumanName    string
	Width        int // byte width (1, 2 or 4) used to encode Get/Set commands against Address

	Value    any // last accepted reading; nil if absent
	NewValue any // staged reading; nil when clean

	NativeToUnitFactor float64
	Precision          int
	Delta              float64
	Formatter          Formatter
	ShortDescr         string
	Units              string

	Listeners []ChangeListener
}

// Key returns the identifier used in ChangeList maps and listener calls:
// the telemetry key when present, otherwise the address in "0xAAAA" form,
// otherwise the human name.
func (d *Descriptor) Key() string {
	if d.TelemetryKey != "" {
		return d.TelemetryKey
	}
	if d.HasAddress {
		return fmt.Sprintf("0x%04X", d.Address)
	}
	return d.HumanName
}

// Format renders v using the descriptor's Formatter, or a default
// rendering when none is set: int64 as a plain integer, float64 with
// Precision decimal places, anything else with %v. No scaling is applied.
func (d *Descriptor) Format(v any) string {
	if v == nil {
		return ""
	}
	if d.Formatter != nil {
		return d.Formatter(v)
	}
	switch n := v.(type) {
	case int64:
		return fmt.Sprintf("%d", n)
	case float64:
		return fmt.Sprintf("%.*f", d.Precision, n)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// toSI converts a raw native-unit numeric value to SI units using the
// descriptor's scaling factor. Non-numeric values return (0, false).
func toSI(v any, factor float64) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n) * factor, true
	case float64:
		return n * factor, true
	default:
		return 0, false
	}
}
