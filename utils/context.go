package utils

import (
	"context"

	"github.com/google/uuid"
)

type rqIDKey struct{}

func GetRequestIDFromCtx(ctx context.Context) string {
	rqID, ok := ctx.Value(rqIDKey{}).(string)
	if !ok {
		return ""
	}
	return rqID
}

// CreateCtxWithRqID attaches a fresh request id to ctx unless one is already set.
func CreateCtxWithRqID(ctx context.Context) context.Context {
	if _, ok := ctx.Value(rqIDKey{}).(string); ok {
		return ctx
	}
	return context.WithValue(ctx, rqIDKey{}, uuid.NewString())
}
