package model

// Traffic rows are written exclusively by the storage bus; nothing in the
// request path touches these tables synchronously.

// DownstreamTraffic records one client-facing exchange.
type DownstreamTraffic struct {
	Id              int64  `json:"id" gorm:"primaryKey"`
	TraceId         string `json:"trace_id" gorm:"index;size:64"`
	Caller          string `json:"caller" gorm:"size:128"`
	Operation       string `json:"operation" gorm:"size:64"`
	Model           string `json:"model" gorm:"size:128"`
	RequestMethod   string `json:"request_method" gorm:"size:8"`
	RequestPath     string `json:"request_path" gorm:"size:256"`
	RequestQuery    string `json:"request_query" gorm:"type:text"`
	RequestHeaders  string `json:"request_headers" gorm:"type:text"`
	RequestBody     string `json:"request_body" gorm:"type:text"`
	ResponseStatus  int    `json:"response_status"`
	ResponseHeaders string `json:"response_headers" gorm:"type:text"`
	ResponseBody    string `json:"response_body" gorm:"type:text"`
	CreatedAt       int64  `json:"created_at" gorm:"autoCreateTime"`
}

// UpstreamTraffic records one provider-facing exchange.
type UpstreamTraffic struct {
	Id              int64  `json:"id" gorm:"primaryKey"`
	TraceId         string `json:"trace_id" gorm:"index;size:64"`
	ProviderId      int    `json:"provider_id" gorm:"index"`
	CredentialId    int    `json:"credential_id" gorm:"index"`
	Operation       string `json:"operation" gorm:"size:64"`
	Model           string `json:"model" gorm:"size:128"`
	RequestMethod   string `json:"request_method" gorm:"size:8"`
	RequestPath     string `json:"request_path" gorm:"size:256"`
	RequestQuery    string `json:"request_query" gorm:"type:text"`
	RequestHeaders  string `json:"request_headers" gorm:"type:text"`
	RequestBody     string `json:"request_body" gorm:"type:text"`
	ResponseStatus  int    `json:"response_status"`
	ResponseHeaders string `json:"response_headers" gorm:"type:text"`
	ResponseBody    string `json:"response_body" gorm:"type:text"`
	CreatedAt       int64  `json:"created_at" gorm:"autoCreateTime"`
}

// UpstreamUsage is the per-request usage snapshot once a stream finalized.
type UpstreamUsage struct {
	Id                       int64  `json:"id" gorm:"primaryKey"`
	TraceId                  string `json:"trace_id" gorm:"index;size:64"`
	ProviderId               int    `json:"provider_id" gorm:"index"`
	CredentialId             int    `json:"credential_id" gorm:"index"`
	Model                    string `json:"model" gorm:"size:128"`
	InputTokens              int64  `json:"input_tokens"`
	OutputTokens             int64  `json:"output_tokens"`
	CacheReadInputTokens     int64  `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64  `json:"cache_creation_input_tokens"`
	CreatedAt                int64  `json:"created_at" gorm:"autoCreateTime"`
}

func (DownstreamTraffic) TableName() string { return "downstream_traffic" }

func (UpstreamTraffic) TableName() string { return "upstream_traffic" }

func (UpstreamUsage) TableName() string { return "upstream_usages" }
