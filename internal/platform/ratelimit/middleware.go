package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	dErrors "baobab/pkg/domain-errors"
	"baobab/pkg/platform/httputil"
	"baobab/pkg/requestcontext"
)

// PerUser limits each authenticated user to limit requests per window. It
// must run after the auth middleware; requests without a user pass through.
// A non-positive limit disables it.
func PerUser(store *SlidingWindow, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil || limit <= 0 || window <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID := requestcontext.UserID(ctx)
			if userID.IsNil() {
				next.ServeHTTP(w, r)
				return
			}

			result := store.Allow("user:"+userID.String(), limit, window)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				logger.WarnContext(ctx, "form write rate limit exceeded",
					"user_id", userID,
					"limit", limit,
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter(store.now())))
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many form changes, try again later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
