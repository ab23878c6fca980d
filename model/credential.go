package model

import (
	"encoding/json"
	"sync"

	"github.com/Laisky/errors/v2"
)

// SecretKind discriminates the polymorphic credential secret.
type SecretKind string

const (
	// SecretAPIKey is a plain vendor api key (claude, aistudio, custom).
	SecretAPIKey SecretKind = "api_key"
	// SecretOAuth is an OAuth bundle with refreshable access token
	// (claudecode, codex, geminicli, antigravity).
	SecretOAuth SecretKind = "oauth"
	// SecretCookie is a browser-session credential (claudecode claude.ai mode).
	SecretCookie SecretKind = "cookie"
)

// CredentialSecret is the tagged secret value. Exactly the fields of the
// active kind are populated; the admin plane converts JSON to and from it.
type CredentialSecret struct {
	Kind SecretKind `json:"kind"`

	APIKey string `json:"api_key,omitempty"`

	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresAt is a unix timestamp in seconds; zero means unknown.
	ExpiresAt int64  `json:"expires_at,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Email     string `json:"email,omitempty"`

	SessionKey string `json:"session_key,omitempty"`
}

// Credential is one authenticating record owned by a provider.
type Credential struct {
	Id         int    `json:"id" gorm:"primaryKey"`
	ProviderId int    `json:"provider_id" gorm:"index"`
	Name       string `json:"name" gorm:"size:128"`
	SecretJSON string `json:"secret" gorm:"column:secret_json;type:text"`
	MetaJSON   string `json:"meta" gorm:"column:meta_json;type:text"`
	Weight     int    `json:"weight" gorm:"default:1"`
	Enabled    bool   `json:"enabled" gorm:"default:true"`
	CreatedAt  int64  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  int64  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (c *Credential) Secret() (CredentialSecret, error) {
	var secret CredentialSecret
	if c.SecretJSON == "" {
		return secret, errors.Errorf("credential %d has no secret", c.Id)
	}
	if err := json.Unmarshal([]byte(c.SecretJSON), &secret); err != nil {
		return secret, errors.Wrapf(err, "decode secret of credential %d", c.Id)
	}
	return secret, nil
}

func (c *Credential) SetSecret(secret CredentialSecret) error {
	raw, err := json.Marshal(secret)
	if err != nil {
		return errors.Wrap(err, "encode credential secret")
	}
	c.SecretJSON = string(raw)
	return nil
}

func (c *Credential) Meta() map[string]any {
	if c.MetaJSON == "" {
		return map[string]any{}
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(c.MetaJSON), &meta); err != nil {
		return map[string]any{}
	}
	return meta
}

func (c *Credential) SetMeta(meta map[string]any) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "encode credential meta")
	}
	c.MetaJSON = string(raw)
	return nil
}

// credentialLocks serializes mutations per credential id so concurrent
// refresh and meta writes never interleave on one row.
var credentialLocks sync.Map

func lockCredential(id int) *sync.Mutex {
	mu, _ := credentialLocks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func GetCredentialById(id int) (*Credential, error) {
	var credential Credential
	if err := DB.First(&credential, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(err, "get credential %d", id)
	}
	return &credential, nil
}

func GetCredentialsByProviderId(providerId int) ([]*Credential, error) {
	var credentials []*Credential
	if err := DB.Order("id").Find(&credentials, "provider_id = ?", providerId).Error; err != nil {
		return nil, errors.Wrapf(err, "list credentials of provider %d", providerId)
	}
	return credentials, nil
}

func (c *Credential) Insert() error {
	return errors.Wrap(DB.Create(c).Error, "insert credential")
}

func (c *Credential) Update() error {
	mu := lockCredential(c.Id)
	mu.Lock()
	defer mu.Unlock()
	return errors.Wrap(
		DB.Model(c).Select("name", "secret_json", "meta_json", "weight", "enabled").Updates(c).Error,
		"update credential")
}

func DeleteCredentialById(id int) error {
	if err := DB.Delete(&CredentialDisallow{}, "credential_id = ?", id).Error; err != nil {
		return errors.Wrapf(err, "delete disallow marks of credential %d", id)
	}
	return errors.Wrapf(DB.Delete(&Credential{}, "id = ?", id).Error, "delete credential %d", id)
}

// UpdateCredentialSecret rewrites only the secret column, serialized per id.
// Used by the OAuth refresh flow.
func UpdateCredentialSecret(id int, secret CredentialSecret) error {
	mu := lockCredential(id)
	mu.Lock()
	defer mu.Unlock()

	raw, err := json.Marshal(secret)
	if err != nil {
		return errors.Wrap(err, "encode credential secret")
	}
	return errors.Wrapf(
		DB.Model(&Credential{}).Where("id = ?", id).Update("secret_json", string(raw)).Error,
		"update secret of credential %d", id)
}

// UpdateCredentialMetaKey merges a single key into the meta column, serialized
// per id. Used by upstream executors persisting durable facts.
func UpdateCredentialMetaKey(id int, key string, value any) error {
	mu := lockCredential(id)
	mu.Lock()
	defer mu.Unlock()

	credential, err := GetCredentialById(id)
	if err != nil {
		return err
	}
	meta := credential.Meta()
	meta[key] = value
	raw, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "encode credential meta")
	}
	return errors.Wrapf(
		DB.Model(&Credential{}).Where("id = ?", id).Update("meta_json", string(raw)).Error,
		"update meta of credential %d", id)
}
