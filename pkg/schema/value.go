package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Schema validates a single decoded JSON value.
// Implementations report every problem to the collector (with a path relative to
// the value being checked) and return false if any problem was found.
type Schema interface {
	Is(value any, c *Collector) bool
	String() string
}

// Issue is a single validation problem found by a Schema
type Issue struct {
	Path    []any
	Message string
}

// Collector accumulates issues while a Schema walks a value
type Collector struct {
	path   []any
	issues []Issue
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{}
}

// Report records an issue at the current path
func (c *Collector) Report(format string, args ...any) {
	path := make([]any, len(c.path))
	copy(path, c.path)
	c.issues = append(c.issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

// At runs fn with segment pushed onto the current path
func (c *Collector) At(segment any, fn func()) {
	c.path = append(c.path, segment)
	defer func() { c.path = c.path[:len(c.path)-1] }()
	fn()
}

// Issues returns the collected issues in discovery order
func (c *Collector) Issues() []Issue {
	return c.issues
}

type anySchema struct{}

// Any accepts every value
func Any() Schema { return anySchema{} }

func (anySchema) Is(any, *Collector) bool { return true }
func (anySchema) String() string         { return "any" }

type stringSchema struct{}

// String accepts JSON strings
func String() Schema { return stringSchema{} }

func (stringSchema) Is(value any, c *Collector) bool {
	if _, ok := value.(string); ok {
		return true
	}
	c.Report("must be a string")
	return false
}

func (stringSchema) String() string { return "string" }

type numberSchema struct {
	integer bool
}

// Number accepts any JSON number
func Number() Schema { return numberSchema{} }

// Int accepts JSON numbers without a fractional part
func Int() Schema { return numberSchema{integer: true} }

func (s numberSchema) Is(value any, c *Collector) bool {
	f, ok := toFloat(value)
	if !ok {
		c.Report("must be a number")
		return false
	}
	if s.integer && f != math.Trunc(f) {
		c.Report("must be an integer")
		return false
	}
	return true
}

func (s numberSchema) String() string {
	if s.integer {
		return "int"
	}
	return "number"
}

type boolSchema struct{}

// Bool accepts JSON booleans
func Bool() Schema { return boolSchema{} }

func (boolSchema) Is(value any, c *Collector) bool {
	if _, ok := value.(bool); ok {
		return true
	}
	c.Report("must be a boolean")
	return false
}

func (boolSchema) String() string { return "bool" }

type arraySchema struct {
	element Schema
}

// ArrayOf accepts arrays whose every element satisfies element.
// Element problems are reported under the element index.
func ArrayOf(element Schema) Schema { return arraySchema{element: element} }

func (s arraySchema) Is(value any, c *Collector) bool {
	items, ok := value.([]any)
	if !ok {
		if typed, isStrings := value.([]string); isStrings {
			items = make([]any, len(typed))
			for i, v := range typed {
				items[i] = v
			}
		} else {
			c.Report("must be an array")
			return false
		}
	}
	valid := true
	for i, item := range items {
		c.At(i, func() {
			if !s.element.Is(item, c) {
				valid = false
			}
		})
	}
	return valid
}

func (s arraySchema) String() string { return fmt.Sprintf("array<%s>", s.element) }

type nullableSchema struct {
	inner Schema
}

// Nullable accepts null or any value accepted by inner
func Nullable(inner Schema) Schema { return nullableSchema{inner: inner} }

func (s nullableSchema) Is(value any, c *Collector) bool {
	if value == nil {
		return true
	}
	return s.inner.Is(value, c)
}

func (s nullableSchema) String() string { return fmt.Sprintf("nullable<%s>", s.inner) }

type enumSchema struct {
	values []string
}

// Enum accepts one of the given strings
func Enum(values ...string) Schema { return enumSchema{values: values} }

func (s enumSchema) Is(value any, c *Collector) bool {
	str, ok := value.(string)
	if ok {
		for _, v := range s.values {
			if v == str {
				return true
			}
		}
	}
	c.Report("must be one of %s", strings.Join(s.values, ", "))
	return false
}

func (s enumSchema) String() string { return fmt.Sprintf("enum(%s)", strings.Join(s.values, "|")) }

// toFloat converts the numeric shapes a decoder may produce
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
