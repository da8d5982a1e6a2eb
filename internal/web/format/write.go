package format

import (
	"encoding/json"
	"net/http"

	"github.com/conduit-lang/resourcekit/pkg/apierror"
)

// Write sends doc as a JSON:API response with the given status.
// A nil doc writes the status with an empty body.
func Write(w http.ResponseWriter, status int, doc any) error {
	if doc == nil {
		w.WriteHeader(status)
		return nil
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	contentType := MediaType
	if _, atomic := doc.(AtomicDocument); atomic {
		contentType += "; " + AtomicExtension
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, err = w.Write(data)
	return err
}

// WriteErrors sends set as an error document with the set's status
func WriteErrors(w http.ResponseWriter, set *apierror.ErrorSet) error {
	return Write(w, set.Status(), Errors(set))
}
