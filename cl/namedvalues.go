package cl

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// NamedValuesMap maps names to values of one of the supported types: string, int64, []int64, float32 and bool.
//
// It is used for context properties (see WithProperties) and for driver attributes.
type NamedValuesMap map[string]any

// validate checks that all values are of a supported type, and returns a copy that can be handed to the driver.
func (m NamedValuesMap) validate() (map[string]any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for key, anyValue := range m {
		switch value := anyValue.(type) {
		case string, int64, float32, bool:
			out[key] = value
		case int:
			out[key] = int64(value)
		case []int64:
			out[key] = slices.Clone(value)
		default:
			return nil, errors.Errorf("named value %q was set to unsupported type %T (value=%v). "+
				"Only values of type string, int64, []int64, float32 and bool are supported.",
				key, value, value)
		}
	}
	return out, nil
}

// String implements fmt.Stringer, listing the values sorted by name.
func (m NamedValuesMap) String() string {
	var parts []string
	for _, key := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%s=%v", key, m[key]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
