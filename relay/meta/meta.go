package meta

import (
	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/common/config"
	"github.com/dfft546/gproxy/common/ctxkey"
	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/dispatch"
)

// Recorder is the traffic sink handle carried through the request. The
// storage bus implements it; tests substitute an in-memory one.
type Recorder interface {
	RecordDownstream(row *model.DownstreamTraffic)
	RecordUpstream(row *model.UpstreamTraffic)
	RecordUsage(row *model.UpstreamUsage)
}

// Meta is the per-request downstream context handed through the relay.
type Meta struct {
	TraceId      string
	Caller       string
	Operation    dispatch.Operation
	Model        string
	ProviderId   int
	ProviderName string
	// ProviderConfig is a consistent snapshot of the provider's config map.
	ProviderConfig map[string]any

	Proxy           string
	UserAgent       string
	RedactSensitive bool

	Recorder Recorder

	// FakeStream marks a 假流式/-prefixed model: buffered upstream call,
	// synthesized downstream stream.
	FakeStream bool
	// AntiTruncation marks a 流式抗截断/-prefixed model.
	AntiTruncation bool
}

func configString(cfg map[string]any, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

// ConfigString returns a provider config value or the fallback.
func (m *Meta) ConfigString(key, fallback string) string {
	if v := configString(m.ProviderConfig, key); v != "" {
		return v
	}
	return fallback
}

// FromContext assembles the Meta for the current gin request.
func FromContext(c *gin.Context, provider *model.Provider, op dispatch.Operation, modelName string, recorder Recorder) *Meta {
	rt := config.GetRuntime()
	return &Meta{
		TraceId:         c.GetString(ctxkey.TraceId),
		Caller:          c.GetString(ctxkey.TokenName),
		Operation:       op,
		Model:           modelName,
		ProviderId:      provider.Id,
		ProviderName:    provider.Name,
		ProviderConfig:  provider.Config(),
		Proxy:           rt.Proxy,
		UserAgent:       c.Request.UserAgent(),
		RedactSensitive: rt.EventRedactSensitive,
		Recorder:        recorder,
	}
}
