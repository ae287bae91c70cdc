package inbound

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/memohai/metaeraser/internal/channel"
)

// Identity describes who sent an inbound message, resolved once per request.
type Identity struct {
	RequestID   string
	SubjectID   string
	Username    string
	DisplayName string
}

// Name returns the best human-facing name for the sender.
func (i Identity) Name() string {
	if i.Username != "" {
		return i.Username
	}
	return i.DisplayName
}

type identityContextKey struct{}

// WithIdentity stores Identity in the context.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves Identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	return identity, ok
}

// ResolveIdentity extracts the sender of msg and assigns a request id.
func ResolveIdentity(msg channel.InboundMessage) Identity {
	return Identity{
		RequestID:   uuid.NewString(),
		SubjectID:   strings.TrimSpace(msg.Sender.SubjectID),
		Username:    msg.Sender.Attribute("username"),
		DisplayName: strings.TrimSpace(msg.Sender.DisplayName),
	}
}

// IdentityMiddleware resolves the sender before the processor runs so every
// downstream log line can carry the same request id.
func IdentityMiddleware() channel.Middleware {
	return func(next channel.InboundHandler) channel.InboundHandler {
		return func(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage) error {
			if _, ok := IdentityFromContext(ctx); ok {
				return next(ctx, cfg, msg)
			}
			return next(WithIdentity(ctx, ResolveIdentity(msg)), cfg, msg)
		}
	}
}

func identityFor(ctx context.Context, msg channel.InboundMessage) Identity {
	if identity, ok := IdentityFromContext(ctx); ok {
		return identity
	}
	return ResolveIdentity(msg)
}
