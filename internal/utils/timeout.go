package utils

import (
	"context"
	"time"
)

const DefaultDBTimeout = 5 * time.Second

// WithDBTimeout bounds a repository call; the placement transaction runs
// several statements under one deadline.
func WithDBTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, DefaultDBTimeout)
}
