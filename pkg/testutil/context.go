package testutil

import (
	"context"
	"net/http"
	"strconv"

	id "baobab/pkg/domain"
	"baobab/pkg/requestcontext"
)

// WithUserID puts an authenticated user on the request context, the way
// RequireAuth does. Non-numeric or non-positive ids are ignored.
func WithUserID(req *http.Request, userID string) *http.Request {
	n, err := strconv.ParseInt(userID, 10, 64)
	if err != nil || n <= 0 {
		return req
	}
	return req.WithContext(requestcontext.WithUserID(req.Context(), id.UserID(n)))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
