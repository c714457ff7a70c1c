package testutil

import (
	"context"
	"time"

	"trustmint/pkg/requestcontext"
)

// FixedContext returns a background context pinned to t, as the request
// time middleware would.
func FixedContext(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}
