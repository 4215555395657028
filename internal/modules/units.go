// ABOUTME: Unit converter module for length, mass, temperature and data size.

package modules

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"github.com/2389/toolshell/internal/registry"
)

// UnitConverter converts values between units of the same dimension.
type UnitConverter struct{}

// Linear units are stored as the factor to the dimension's base unit.
var linearUnits = map[string]map[string]float64{
	"length": {
		"mm": 0.001, "cm": 0.01, "m": 1, "km": 1000,
		"in": 0.0254, "ft": 0.3048, "yd": 0.9144, "mi": 1609.344,
	},
	"mass": {
		"mg": 0.000001, "g": 0.001, "kg": 1, "t": 1000,
		"oz": 0.028349523125, "lb": 0.45359237,
	},
	"data": {
		"b": 1, "kb": 1e3, "mb": 1e6, "gb": 1e9, "tb": 1e12,
		"kib": 1 << 10, "mib": 1 << 20, "gib": 1 << 30, "tib": 1 << 40,
	},
}

var temperatureUnits = []string{"c", "f", "k"}

type unitInput struct {
	Value float64 `json:"value"`
	From  string  `json:"from"`
	To    string  `json:"to"`
}

// Run converts input.Value from one unit to another. With no units it lists what
// is supported.
func (u *UnitConverter) Run(ctx context.Context, host registry.Host, input json.RawMessage) (json.RawMessage, error) {
	var in unitInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.From == "" && in.To == "" {
		return json.Marshal(map[string]any{"units": SupportedUnits()})
	}

	result, dimension, err := Convert(in.Value, in.From, in.To)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"value":     in.Value,
		"from":      strings.ToLower(in.From),
		"to":        strings.ToLower(in.To),
		"result":    result,
		"dimension": dimension,
	})
}

// SupportedUnits lists unit symbols per dimension.
func SupportedUnits() map[string][]string {
	out := map[string][]string{"temperature": slices.Clone(temperatureUnits)}
	for dim, units := range linearUnits {
		out[dim] = slices.Sorted(maps.Keys(units))
	}
	return out
}

// Convert converts v between units of the same dimension.
func Convert(v float64, from, to string) (float64, string, error) {
	from, to = strings.ToLower(from), strings.ToLower(to)

	if slices.Contains(temperatureUnits, from) || slices.Contains(temperatureUnits, to) {
		if !slices.Contains(temperatureUnits, from) || !slices.Contains(temperatureUnits, to) {
			return 0, "", invalid("cannot convert %s to %s", from, to)
		}
		kelvin := toKelvin(v, from)
		if kelvin < 0 {
			return 0, "", invalid("temperature below absolute zero")
		}
		return fromKelvin(kelvin, to), "temperature", nil
	}

	for dim, units := range linearUnits {
		f, okFrom := units[from]
		t, okTo := units[to]
		if okFrom && okTo {
			return v * f / t, dim, nil
		}
		if okFrom || okTo {
			return 0, "", invalid("cannot convert %s to %s", from, to)
		}
	}
	return 0, "", invalid("unknown units %s, %s", from, to)
}

func toKelvin(v float64, unit string) float64 {
	switch unit {
	case "c":
		return v + 273.15
	case "f":
		return (v-32)*5/9 + 273.15
	}
	return v
}

func fromKelvin(k float64, unit string) float64 {
	switch unit {
	case "c":
		return k - 273.15
	case "f":
		return (k-273.15)*9/5 + 32
	}
	return k
}
