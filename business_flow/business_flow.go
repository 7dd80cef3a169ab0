// Package businessflow contains the business logic for the application.
package businessflow

import (
	"context"

	"github.com/amirphl/Kusanagi/utils"
	"go.uber.org/zap"
)

// RequestMetadata holds the caller details handlers attach to the context.
// Flows log it next to state changes of batches and placement tables.
type RequestMetadata struct {
	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
}

// RequestMetadataFromContext reads the request-scoped values set by the
// handlers; missing values stay empty.
func RequestMetadataFromContext(ctx context.Context) RequestMetadata {
	get := func(key utils.ContextKey) string {
		v, _ := ctx.Value(key).(string)
		return v
	}
	return RequestMetadata{
		RequestID: get(utils.RequestIDKey),
		IPAddress: get(utils.IPAddressKey),
		UserAgent: get(utils.UserAgentKey),
		Endpoint:  get(utils.EndpointKey),
	}
}

// Fields returns the non-empty values as zap fields
func (m RequestMetadata) Fields() []zap.Field {
	fields := make([]zap.Field, 0, 4)
	for _, kv := range [...]struct{ k, v string }{
		{"request_id", m.RequestID},
		{"ip", m.IPAddress},
		{"user_agent", m.UserAgent},
		{"endpoint", m.Endpoint},
	} {
		if kv.v != "" {
			fields = append(fields, zap.String(kv.k, kv.v))
		}
	}
	return fields
}

// auditFields appends the caller of ctx to fields
func auditFields(ctx context.Context, fields ...zap.Field) []zap.Field {
	return append(fields, RequestMetadataFromContext(ctx).Fields()...)
}
