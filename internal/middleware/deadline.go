package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/dskow/toolgate/internal/apierror"
)

// Deadline returns middleware that applies a hard wall-clock limit to the
// entire request. The per-request budget inside the relay handler normally
// finishes well before this fires; the middleware is the watchdog for a
// wedged handler. If the limit fires before the handler completes, a 504
// Gateway Timeout is returned. Pass 0 to disable (handler called directly).
func Deadline(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next // disabled
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			tw := &deadlineWriter{ResponseWriter: w}

			go func() {
				next.ServeHTTP(tw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
				// Handler completed before deadline.
			case <-ctx.Done():
				// Deadline exceeded — only write 504 if the handler hasn't
				// started writing a response yet.
				if tw.tryClaimWrite() {
					apierror.WriteJSON(w, r, http.StatusGatewayTimeout, apierror.DeadlineExceeded,
						"hard request deadline exceeded")
				}
				// Wait for handler goroutine to finish to avoid leaks.
				<-done
			}
		})
	}
}

// deadlineWriter wraps ResponseWriter and tracks whether any bytes have been
// written. This prevents the deadline handler from sending a 504 after a
// result envelope has already started streaming to the client.
type deadlineWriter struct {
	http.ResponseWriter
	claimed bool
}

// tryClaimWrite atomically claims the right to write. Returns true if
// no bytes have been written yet. Not using sync.Once to avoid import;
// this is only called from two code paths that are synchronized via the
// done channel and context cancellation.
func (dw *deadlineWriter) tryClaimWrite() bool {
	if dw.claimed {
		return false
	}
	dw.claimed = true
	return true
}

func (dw *deadlineWriter) WriteHeader(code int) {
	dw.claimed = true
	dw.ResponseWriter.WriteHeader(code)
}

func (dw *deadlineWriter) Write(b []byte) (int, error) {
	dw.claimed = true
	return dw.ResponseWriter.Write(b)
}
