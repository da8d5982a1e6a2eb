package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorSet aggregates API errors for one failed request or batch step.
// It is the only error value the manager returns for modeled failures.
type ErrorSet struct {
	errors []*Error
}

// NewErrorSet creates a set holding the given errors
func NewErrorSet(errs ...*Error) *ErrorSet {
	set := &ErrorSet{}
	set.Add(errs...)
	return set
}

// Add appends errors to the set, ignoring nils
func (s *ErrorSet) Add(errs ...*Error) *ErrorSet {
	for _, err := range errs {
		if err != nil {
			s.errors = append(s.errors, err)
		}
	}
	return s
}

// Append merges another set into this one
func (s *ErrorSet) Append(other *ErrorSet) *ErrorSet {
	if other != nil {
		s.errors = append(s.errors, other.errors...)
	}
	return s
}

// Errors returns the collected errors in insertion order
func (s *ErrorSet) Errors() []*Error {
	if s == nil {
		return nil
	}
	return s.errors
}

// Len returns the number of collected errors
func (s *ErrorSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.errors)
}

// HasErrors returns true if the set is non-empty
func (s *ErrorSet) HasErrors() bool {
	return s.Len() > 0
}

// Err returns the set as an error, or nil if it is empty.
// This is the usual way to end a validation pass:
//
//	errs := apierror.NewErrorSet()
//	... errs.Add(...)
//	return errs.Err()
func (s *ErrorSet) Err() error {
	if !s.HasErrors() {
		return nil
	}
	return s
}

// Status returns the HTTP status that best represents the whole set:
// the shared status if all errors agree, otherwise the generic class (400 or 500).
func (s *ErrorSet) Status() int {
	if !s.HasErrors() {
		return http.StatusOK
	}
	status := s.errors[0].Status
	for _, err := range s.errors[1:] {
		if err.Status != status {
			if err.Status >= 500 || status >= 500 {
				return http.StatusInternalServerError
			}
			return http.StatusBadRequest
		}
	}
	return status
}

// Error implements the error interface
func (s *ErrorSet) Error() string {
	switch s.Len() {
	case 0:
		return "no errors"
	case 1:
		return s.errors[0].Error()
	}
	messages := make([]string, 0, len(s.errors))
	for _, err := range s.errors {
		messages = append(messages, "  - "+err.Error())
	}
	return fmt.Sprintf("%d errors:\n%s", len(s.errors), strings.Join(messages, "\n"))
}

// MarshalJSON renders the set as a JSON:API errors array
func (s *ErrorSet) MarshalJSON() ([]byte, error) {
	errs := s.Errors()
	if errs == nil {
		errs = []*Error{}
	}
	return json.Marshal(errs)
}

// AsErrorSet extracts an ErrorSet from an error chain
func AsErrorSet(err error) (*ErrorSet, bool) {
	var set *ErrorSet
	if errors.As(err, &set) {
		return set, true
	}
	return nil, false
}
