package channel

import "context"

type tokenKey struct{}

// WithToken attaches a bearer token to ctx for the duration of one RPC.
// tokenCredentials.GetRequestMetadata reads it back at call time, so the
// token never has to be fixed at dial time the way RpcClientConf.TokenCredentials
// was.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func TokenFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenKey{}).(string)
	return v, ok
}
