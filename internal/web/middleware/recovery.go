package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/conduit-lang/resourcekit/internal/web/format"
	"github.com/conduit-lang/resourcekit/pkg/apierror"
)

// Recovery recovers from panics in later handlers, logs them with the stack
// and answers with a 500 error document.
func Recovery(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// http.ErrAbortHandler is the documented way to abort a response
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error("panic recovered",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("panic", fmt.Sprint(rec)),
					zap.ByteString("stack", debug.Stack()),
				)

				set := apierror.NewErrorSet(apierror.Internal("An unexpected error occurred"))
				if err := format.WriteErrors(w, set); err != nil {
					logger.Warn("failed to write error response", zap.Error(err))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
