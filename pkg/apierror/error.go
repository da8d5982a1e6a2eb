// Package apierror defines the closed taxonomy of API errors returned by the
// resource manager, their source locations, and the ErrorSet aggregate that is
// the unit of failure for every request.
package apierror

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Parameter names a top-level query parameter an error can point at
type Parameter string

const (
	ParamInclude Parameter = "include"
	ParamFields  Parameter = "fields"
	ParamSort    Parameter = "sort"
	ParamFilter  Parameter = "filter"
	ParamPage    Parameter = "page"
	ParamQuery   Parameter = "query"
	ParamMethod  Parameter = "method"
)

// Source locates an error either structurally (Pointer) or by query parameter.
// Exactly one of Pointer or Parameter is meaningful; IsPointer tells which.
type Source struct {
	Pointer   Pointer
	Parameter Parameter
	Header    string
	isPointer bool
}

// PointerSource creates a source pointing into the request document
func PointerSource(p Pointer) Source {
	return Source{Pointer: p, isPointer: true}
}

// ParameterSource creates a source naming a query parameter
func ParameterSource(param Parameter) Source {
	return Source{Parameter: param}
}

// QuerySource is the generic "whole query" location
func QuerySource() Source {
	return ParameterSource(ParamQuery)
}

// IsPointer returns true if the source is a document pointer
func (s Source) IsPointer() bool {
	return s.isPointer
}

// At extends a pointer source with more segments.
// Parameter sources are returned unchanged.
func (s Source) At(segments ...any) Source {
	if !s.isPointer {
		return s
	}
	return PointerSource(s.Pointer.Append(segments...))
}

// String renders the source for logs and error messages
func (s Source) String() string {
	if s.isPointer {
		return s.Pointer.String()
	}
	return string(s.Parameter)
}

// MarshalJSON renders the JSON:API error source object
func (s Source) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, 2)
	if s.isPointer {
		out["pointer"] = s.Pointer.String()
	} else {
		out["parameter"] = string(s.Parameter)
	}
	if s.Header != "" {
		out["header"] = s.Header
	}
	return json.Marshal(out)
}

// Error is a single API error
type Error struct {
	Code   string `json:"code,omitempty"`
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Source Source `json:"source"`
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Title)
	if loc := e.Source.String(); loc != "" {
		fmt.Fprintf(&b, " at %s", loc)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

// MarshalJSON renders the error in JSON:API shape (status is a string there)
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Code   string `json:"code,omitempty"`
		Status string `json:"status"`
		Title  string `json:"title"`
		Detail string `json:"detail,omitempty"`
		Source Source `json:"source"`
	}{
		Code:   e.Code,
		Status: fmt.Sprintf("%d", e.Status),
		Title:  e.Title,
		Detail: e.Detail,
		Source: e.Source,
	})
}
