package apierror

import (
	"fmt"
	"net/http"
)

// Internal reports an unexpected server-side failure
func Internal(detail string) *Error {
	return &Error{
		Status: http.StatusInternalServerError,
		Title:  "Internal server error",
		Detail: detail,
		Source: QuerySource(),
	}
}

// Query reports a malformed query string or path
func Query(param Parameter, detail string) *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Title:  "Invalid query",
		Detail: detail,
		Source: ParameterSource(param),
	}
}

// MethodNotAllowed reports a method the addressed resource type does not support
func MethodNotAllowed(method string) *Error {
	return &Error{
		Status: http.StatusMethodNotAllowed,
		Title:  "Method not allowed",
		Detail: fmt.Sprintf("method %q is not allowed here", method),
		Source: ParameterSource(ParamMethod),
	}
}

// MethodNotAllowedForType reports a method that is not allowed for a resource type
// inside a batch, where the location is an operation pointer.
func MethodNotAllowedForType(p Pointer, method, resourceType string) *Error {
	return &Error{
		Status: http.StatusMethodNotAllowed,
		Title:  "Method not allowed",
		Detail: fmt.Sprintf("method %q is not allowed for resources of type %q", method, resourceType),
		Source: PointerSource(p),
	}
}

// InvalidQueryParameter reports a well-formed parameter whose content is not acceptable
func InvalidQueryParameter(param Parameter, detail string) *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Title:  "Invalid query parameter",
		Detail: detail,
		Source: ParameterSource(param),
	}
}

// Forbidden reports a resource the caller may not access
func Forbidden(src Source, detail string) *Error {
	return &Error{
		Status: http.StatusForbidden,
		Title:  "Forbidden",
		Detail: detail,
		Source: src,
	}
}

// NotFound reports a resource that does not exist
func NotFound(src Source, detail string) *Error {
	return &Error{
		Status: http.StatusNotFound,
		Title:  "Not found",
		Detail: detail,
		Source: src,
	}
}

// InvalidResourceType reports an unknown or mismatched resource type
func InvalidResourceType(src Source, resourceType string) *Error {
	return &Error{
		Status: http.StatusNotFound,
		Title:  "Invalid resource type",
		Detail: fmt.Sprintf("resource type %q is not valid here", resourceType),
		Source: src,
	}
}

// InvalidResourceID reports a body id that does not match the addressed id
func InvalidResourceID(p Pointer, expected, got string) *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Title:  "Invalid resource id",
		Detail: fmt.Sprintf("expected id %q, got %q", expected, got),
		Source: PointerSource(p),
	}
}

// InvalidResourceLid reports a local id that is not declared by an earlier add operation
func InvalidResourceLid(p Pointer, lid string) *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Title:  "Invalid resource lid",
		Detail: fmt.Sprintf("local id %q cannot be resolved", lid),
		Source: PointerSource(p),
	}
}

// Field reports an invalid attribute or relationship value
func Field(p Pointer, detail string) *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Title:  "Invalid field",
		Detail: detail,
		Source: PointerSource(p),
	}
}

// FieldNotExist reports a field that is not declared on the resource type
func FieldNotExist(p Pointer, name string) *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Title:  "Invalid field",
		Detail: fmt.Sprintf("field %q does not exist", name),
		Source: PointerSource(p),
	}
}

// Conflict reports a client-generated id that is already taken
func Conflict(p Pointer, resourceType, id string) *Error {
	return &Error{
		Status: http.StatusConflict,
		Title:  "Conflict",
		Detail: fmt.Sprintf("resource %s/%s already exists", resourceType, id),
		Source: PointerSource(p),
	}
}
