package authgate

import "context"

// clientMeta describes the caller of one request. Audit events record the
// IP; sessions keep only hashes of both fields.
type clientMeta struct {
	ip        string
	userAgent string
}

type clientMetaKey struct{}

func metaFrom(ctx context.Context) clientMeta {
	if ctx == nil {
		return clientMeta{}
	}
	m, _ := ctx.Value(clientMetaKey{}).(clientMeta)
	return m
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	m := metaFrom(ctx)
	m.ip = ip
	return context.WithValue(ctx, clientMetaKey{}, m)
}

func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	m := metaFrom(ctx)
	m.userAgent = userAgent
	return context.WithValue(ctx, clientMetaKey{}, m)
}
