package model

// UsageSummary is the cross-protocol token accounting value. Fields stay nil
// until an upstream event carries them; merge never clears a set field.
type UsageSummary struct {
	InputTokens              *int64 `json:"input_tokens,omitempty"`
	OutputTokens             *int64 `json:"output_tokens,omitempty"`
	CacheReadInputTokens     *int64 `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens *int64 `json:"cache_creation_input_tokens,omitempty"`
}

// Merge overlays incoming non-nil fields onto the summary; nil fields are
// ignored so later sparse events never erase earlier counts.
func (u *UsageSummary) Merge(in UsageSummary) {
	if in.InputTokens != nil {
		u.InputTokens = in.InputTokens
	}
	if in.OutputTokens != nil {
		u.OutputTokens = in.OutputTokens
	}
	if in.CacheReadInputTokens != nil {
		u.CacheReadInputTokens = in.CacheReadInputTokens
	}
	if in.CacheCreationInputTokens != nil {
		u.CacheCreationInputTokens = in.CacheCreationInputTokens
	}
}

// Empty reports whether no field has been set.
func (u UsageSummary) Empty() bool {
	return u.InputTokens == nil && u.OutputTokens == nil &&
		u.CacheReadInputTokens == nil && u.CacheCreationInputTokens == nil
}

// Int64 is a convenience for building optional usage fields.
func Int64(v int64) *int64 { return &v }

// Or returns the pointed value or zero.
func Or(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
