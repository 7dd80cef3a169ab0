package utils

import (
	"time"
)

// ServiceName identifies this service in logs and health responses
const ServiceName = "kusanagi"

// ContextKey namespaces request-scoped values
type ContextKey string

// Request-scoped context keys set by the handlers
const (
	RequestIDKey ContextKey = "request_id"
	UserAgentKey ContextKey = "user_agent"
	IPAddressKey ContextKey = "ip_address"
	EndpointKey  ContextKey = "endpoint"
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// DefaultRequestTimeout bounds a request when the server config sets none
const DefaultRequestTimeout = 30 * time.Second

// ManifestContentType is the media type of the batch manifest download
const ManifestContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
