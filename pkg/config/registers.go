package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"bmvlink/pkg/errors"
	"bmvlink/pkg/registry"
)

// RegisterEntry is one row of the register descriptor table, parsed from
// registers.yaml the way the teacher's config_groups.go parses per-register
// YAML (address, scale, unit...), retargeted from a Modbus register
// catalogue onto this protocol's descriptor fields.
type RegisterEntry struct {
	Address            *uint16 `yaml:"address,omitempty"`
	TelemetryKey       string  `yaml:"telemetryKey,omitempty"`
	HumanName          string  `yaml:"name,omitempty"`
	Width              int     `yaml:"width,omitempty"`
	NativeToUnitFactor float64 `yaml:"factor,omitempty"`
	Precision          int     `yaml:"precision,omitempty"`
	Delta              float64 `yaml:"delta,omitempty"`
	Formatter          string  `yaml:"formatter,omitempty"`
	ShortDescr         string  `yaml:"shortDescr,omitempty"`
	Units              string  `yaml:"units,omitempty"`
}

// RegisterTable is the parsed registers.yaml document: an arbitrary table
// key (for readability in the file) mapped to its RegisterEntry.
type RegisterTable map[string]RegisterEntry

// LoadRegisterTable reads and parses registers.yaml from path.
func LoadRegisterTable(path string) (RegisterTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("read register table", err, path)
	}
	var table RegisterTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, errors.NewConfigError("parse register table", err, path)
	}
	if err := table.Validate(); err != nil {
		return nil, errors.NewConfigError("validate register table", err, path)
	}
	return table, nil
}

// Validate rejects entries with no way to be looked up and unsupported
// register widths.
func (t RegisterTable) Validate() error {
	for key, e := range t {
		if e.Address == nil && e.TelemetryKey == "" && e.HumanName == "" {
			return errors.NewValidationError(fmt.Sprintf("%s.address/telemetryKey/name", key), "at least one index", "none")
		}
		if e.Width != 0 && e.Width != 1 && e.Width != 2 && e.Width != 4 {
			return errors.NewValidationError(fmt.Sprintf("%s.width", key), "1, 2 or 4", e.Width)
		}
	}
	return nil
}

// Seed registers every entry into cache, resolving each entry's named
// Formatter against the small built-in table below. Evaluating calculated
// registers from a formula string (the teacher's formula_validation.go) is
// register-catalogue content specific to the Modbus gateway and is not
// carried over; only the format-for-display concern survives.
func (t RegisterTable) Seed(cache *registry.Cache) {
	for _, e := range t {
		factor := e.NativeToUnitFactor
		if factor == 0 {
			factor = 1
		}
		d := &registry.Descriptor{
			TelemetryKey:       e.TelemetryKey,
			HumanName:          e.HumanName,
			Width:              e.Width,
			NativeToUnitFactor: factor,
			Precision:          e.Precision,
			Delta:              e.Delta,
			ShortDescr:         e.ShortDescr,
			Units:              e.Units,
			Formatter:          formatterByName(e.Formatter),
		}
		if e.Address != nil {
			d.Address = *e.Address
			d.HasAddress = true
		}
		cache.Register(d)
	}
}

// formatterByName resolves a small, named set of display formatters.
// Unrecognised or empty names fall back to Descriptor's default rendering.
func formatterByName(name string) registry.Formatter {
	switch name {
	case "onOff":
		return func(v any) string {
			if n, ok := v.(int64); ok {
				if n != 0 {
					return "ON"
				}
				return "OFF"
			}
			return fmt.Sprintf("%v", v)
		}
	case "hex":
		return func(v any) string {
			if n, ok := v.(int64); ok {
				return fmt.Sprintf("0x%X", n)
			}
			return fmt.Sprintf("%v", v)
		}
	default:
		return nil
	}
}
