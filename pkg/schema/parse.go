package schema

import (
	"fmt"
	"strings"
)

// Parse converts a type string into a Schema.
// Supported forms: string, int, number, bool, any, array<T>, nullable<T>, enum(a|b|c).
func Parse(s string) (Schema, error) {
	s = strings.TrimSpace(s)

	switch s {
	case "string":
		return String(), nil
	case "int":
		return Int(), nil
	case "number":
		return Number(), nil
	case "bool":
		return Bool(), nil
	case "any":
		return Any(), nil
	}

	if inner, ok := unwrap(s, "array<", ">"); ok {
		element, err := Parse(inner)
		if err != nil {
			return nil, err
		}
		return ArrayOf(element), nil
	}

	if inner, ok := unwrap(s, "nullable<", ">"); ok {
		element, err := Parse(inner)
		if err != nil {
			return nil, err
		}
		return Nullable(element), nil
	}

	if inner, ok := unwrap(s, "enum(", ")"); ok {
		values := strings.Split(inner, "|")
		for i, v := range values {
			values[i] = strings.TrimSpace(v)
			if values[i] == "" {
				return nil, fmt.Errorf("empty enum value in %q", s)
			}
		}
		return Enum(values...), nil
	}

	return nil, fmt.Errorf("unknown schema type: %s", s)
}

func unwrap(s, prefix, suffix string) (string, bool) {
	if strings.HasPrefix(s, prefix) && strings.HasSuffix(s, suffix) {
		return s[len(prefix) : len(s)-len(suffix)], true
	}
	return "", false
}
