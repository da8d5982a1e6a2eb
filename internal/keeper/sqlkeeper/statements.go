package sqlkeeper

import (
	"fmt"
	"strings"
)

// Dialect selects placeholder syntax
type Dialect int

const (
	// Postgres uses numbered placeholders: $1, $2
	Postgres Dialect = iota
	// SQLite uses positional placeholders: ?
	SQLite
)

// String returns the string representation of the dialect
func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// statement accumulates SQL text and its arguments
type statement struct {
	dialect Dialect
	sql     strings.Builder
	args    []any
}

func newStatement(d Dialect) *statement {
	return &statement{dialect: d}
}

func (s *statement) write(format string, args ...any) *statement {
	fmt.Fprintf(&s.sql, format, args...)
	return s
}

// arg appends a bound value and writes its placeholder
func (s *statement) arg(value any) *statement {
	s.args = append(s.args, value)
	if s.dialect == SQLite {
		s.sql.WriteString("?")
	} else {
		fmt.Fprintf(&s.sql, "$%d", len(s.args))
	}
	return s
}

// in writes "<column> IN (...)" with one placeholder per value
func (s *statement) in(column string, values []string) *statement {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.inValues(column, args)
}

func (s *statement) inValues(column string, values []any) *statement {
	s.write("%s IN (", quote(column))
	for i, v := range values {
		if i > 0 {
			s.sql.WriteString(", ")
		}
		s.arg(v)
	}
	s.sql.WriteString(")")
	return s
}

func (s *statement) String() string {
	return s.sql.String()
}

// quote quotes an identifier for both supported dialects
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	return strings.Join(quoted, ", ")
}
