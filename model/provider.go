package model

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"
)

// Provider is one named upstream backend and its configuration mapping.
type Provider struct {
	Id         int    `json:"id" gorm:"primaryKey"`
	Name       string `json:"name" gorm:"uniqueIndex;size:64"`
	ConfigJSON string `json:"config" gorm:"column:config_json;type:text"`
	Enabled    bool   `json:"enabled" gorm:"default:true"`
	UpdatedAt  int64  `json:"updated_at" gorm:"autoUpdateTime"`
}

// Config decodes the provider configuration mapping. A nil map is returned
// for an empty column so lookups stay safe.
func (p *Provider) Config() map[string]any {
	if p.ConfigJSON == "" {
		return nil
	}
	var cfg map[string]any
	if err := json.Unmarshal([]byte(p.ConfigJSON), &cfg); err != nil {
		return nil
	}
	return cfg
}

// ConfigString returns a string-valued config entry or the fallback.
func (p *Provider) ConfigString(key, fallback string) string {
	if v, ok := p.Config()[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func (p *Provider) SetConfig(cfg map[string]any) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode provider config")
	}
	p.ConfigJSON = string(raw)
	return nil
}

func GetProviderById(id int) (*Provider, error) {
	var provider Provider
	if err := DB.First(&provider, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(err, "get provider %d", id)
	}
	return &provider, nil
}

func GetProviderByName(name string) (*Provider, error) {
	var provider Provider
	if err := DB.First(&provider, "name = ?", name).Error; err != nil {
		return nil, errors.Wrapf(err, "get provider %q", name)
	}
	return &provider, nil
}

func GetAllProviders() ([]*Provider, error) {
	var providers []*Provider
	if err := DB.Order("id").Find(&providers).Error; err != nil {
		return nil, errors.Wrap(err, "list providers")
	}
	return providers, nil
}

func (p *Provider) Insert() error {
	return errors.Wrap(DB.Create(p).Error, "insert provider")
}

func (p *Provider) Update() error {
	return errors.Wrap(
		DB.Model(p).Select("name", "config_json", "enabled").Updates(p).Error,
		"update provider")
}

func DeleteProviderById(id int) error {
	if err := DB.Delete(&Credential{}, "provider_id = ?", id).Error; err != nil {
		return errors.Wrapf(err, "delete credentials of provider %d", id)
	}
	return errors.Wrapf(DB.Delete(&Provider{}, "id = ?", id).Error, "delete provider %d", id)
}
