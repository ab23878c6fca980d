package model

import (
	"time"

	"github.com/Laisky/errors/v2"
	gocache "github.com/patrickmn/go-cache"

	"github.com/dfft546/gproxy/common"
)

const (
	ApiKeyStatusEnabled  = 1
	ApiKeyStatusDisabled = 2
)

// ApiKey authenticates one downstream caller on the client surface.
type ApiKey struct {
	Id         int    `json:"id" gorm:"primaryKey"`
	UserId     int    `json:"user_id" gorm:"index"`
	Name       string `json:"name" gorm:"size:128"`
	Key        string `json:"key" gorm:"uniqueIndex;size:64"`
	Status     int    `json:"status" gorm:"default:1"`
	CreatedAt  int64  `json:"created_at" gorm:"autoCreateTime"`
	AccessedAt int64  `json:"accessed_at"`
}

const apiKeyCacheTTL = 2 * time.Minute

var apiKeyCache = gocache.New(apiKeyCacheTTL, 10*time.Minute)

// ValidateApiKey resolves a raw bearer key to its row. Hits are cached in
// Redis when available, falling back to the in-process cache.
func ValidateApiKey(key string) (*ApiKey, error) {
	if key == "" {
		return nil, errors.New("empty api key")
	}

	if cached, ok := apiKeyCache.Get(key); ok {
		return cached.(*ApiKey), nil
	}
	if common.IsRedisEnabled() {
		if raw, err := common.RedisGet("apikey:" + key); err == nil && raw == "disabled" {
			return nil, errors.New("api key disabled")
		}
	}

	var token ApiKey
	if err := DB.Where(&ApiKey{Key: key}).First(&token).Error; err != nil {
		return nil, errors.Wrap(err, "api key not found")
	}
	if token.Status != ApiKeyStatusEnabled {
		if common.IsRedisEnabled() {
			_ = common.RedisSet("apikey:"+key, "disabled", apiKeyCacheTTL)
		}
		return nil, errors.New("api key disabled")
	}

	apiKeyCache.Set(key, &token, gocache.DefaultExpiration)
	go func() {
		_ = DB.Model(&ApiKey{}).Where("id = ?", token.Id).
			Update("accessed_at", time.Now().Unix()).Error
	}()
	return &token, nil
}

// InvalidateApiKeyCache drops a key from both cache layers after admin writes.
func InvalidateApiKeyCache(key string) {
	apiKeyCache.Delete(key)
	if common.IsRedisEnabled() {
		_ = common.RedisDel("apikey:" + key)
	}
}

func GetApiKeyById(id int) (*ApiKey, error) {
	var token ApiKey
	if err := DB.First(&token, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(err, "get api key %d", id)
	}
	return &token, nil
}

func GetAllApiKeys() ([]*ApiKey, error) {
	var tokens []*ApiKey
	if err := DB.Order("id").Find(&tokens).Error; err != nil {
		return nil, errors.Wrap(err, "list api keys")
	}
	return tokens, nil
}

func (t *ApiKey) Insert() error {
	return errors.Wrap(DB.Create(t).Error, "insert api key")
}

func (t *ApiKey) Update() error {
	InvalidateApiKeyCache(t.Key)
	return errors.Wrap(
		DB.Model(t).Select("name", "status").Updates(t).Error,
		"update api key")
}

func DeleteApiKeyById(id int) error {
	token, err := GetApiKeyById(id)
	if err != nil {
		return err
	}
	InvalidateApiKeyCache(token.Key)
	return errors.Wrapf(DB.Delete(&ApiKey{}, "id = ?", id).Error, "delete api key %d", id)
}
