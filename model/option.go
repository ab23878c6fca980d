package model

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm/clause"

	"github.com/dfft546/gproxy/common/config"
)

// GlobalConfig persists the single gateway-wide configuration row.
type GlobalConfig struct {
	Id        int    `json:"id" gorm:"primaryKey"`
	Value     string `json:"value" gorm:"type:text"`
	UpdatedAt int64  `json:"updated_at" gorm:"autoUpdateTime"`
}

const globalConfigRowId = 1

// LoadGlobalConfig reads the config row into the in-memory runtime snapshot.
// Missing row is not an error: defaults apply until the first admin write.
func LoadGlobalConfig() error {
	var row GlobalConfig
	if err := DB.First(&row, "id = ?", globalConfigRowId).Error; err != nil {
		return nil
	}
	var rt config.Runtime
	if err := json.Unmarshal([]byte(row.Value), &rt); err != nil {
		return errors.Wrap(err, "decode global config")
	}
	config.SetRuntime(rt)
	return nil
}

// SaveGlobalConfig persists the runtime snapshot and swaps the in-memory copy.
func SaveGlobalConfig(rt config.Runtime) error {
	raw, err := json.Marshal(rt)
	if err != nil {
		return errors.Wrap(err, "encode global config")
	}
	row := GlobalConfig{Id: globalConfigRowId, Value: string(raw)}
	err = DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return errors.Wrap(err, "save global config")
	}
	config.SetRuntime(rt)
	return nil
}

func (GlobalConfig) TableName() string { return "global_config" }
