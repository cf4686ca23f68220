package auth

import "context"

type contextKey string

const authContextKey contextKey = "clamgate_auth"

// Info holds authenticated identity information extracted from an API key.
type Info struct {
	KeyID   string
	KeyName string
}

func ContextWithInfo(ctx context.Context, info *Info) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

func InfoFromContext(ctx context.Context) (*Info, bool) {
	info, ok := ctx.Value(authContextKey).(*Info)
	return info, ok
}
