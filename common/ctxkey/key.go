package ctxkey

const (
	// TraceId is the per-request unique identifier, also echoed to the client
	// as the X-Gproxy-Trace-Id header.
	// Set in: middleware/request-id. Read by relay meta and traffic records.
	TraceId = "X-Gproxy-Trace-Id"

	// TokenId is the authenticated api_keys row id.
	// Set in: middleware/auth (client surface).
	TokenId = "token_id"

	// TokenName labels traffic records with the calling key's name.
	// Set in: middleware/auth (client surface).
	TokenName = "token_name"

	// ProviderModel holds the *model.Provider selected to serve this request.
	// Set in: middleware/distributor.
	ProviderModel = "provider_model"
)
