// Package settings defines typed system settings stored by administrators.
package settings

import "strconv"

// Value types for Setting.Type.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// Setting is one key/value pair from the system settings collection.
type Setting struct {
	Key   string `json:"setting_key"`
	Value string `json:"setting_value"`
	Type  string `json:"setting_type"`
}

// Number returns the setting parsed as a float, or def when absent or unparseable.
func Number(all []Setting, key string, def float64) float64 {
	for _, s := range all {
		if s.Key != key {
			continue
		}
		if v, err := strconv.ParseFloat(s.Value, 64); err == nil {
			return v
		}
		return def
	}
	return def
}

// Bool returns the setting parsed as a boolean, or def when absent.
func Bool(all []Setting, key string, def bool) bool {
	for _, s := range all {
		if s.Key == key {
			return s.Value == "true"
		}
	}
	return def
}
