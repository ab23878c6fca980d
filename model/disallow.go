package model

import (
	"github.com/Laisky/errors/v2"
	"gorm.io/gorm/clause"
)

const (
	DisallowScopeAll   = "all"
	DisallowScopeModel = "model"

	DisallowLevelTransient = "transient"
	DisallowLevelDead      = "dead"
)

// CredentialDisallow is the durable audit row behind an in-memory disallow
// mark. The pool owns authority; these rows seed recovery at startup.
type CredentialDisallow struct {
	Id           int    `json:"id" gorm:"primaryKey"`
	CredentialId int    `json:"credential_id" gorm:"uniqueIndex:idx_disallow_scope"`
	ScopeKind    string `json:"scope_kind" gorm:"uniqueIndex:idx_disallow_scope;size:16"`
	ScopeValue   string `json:"scope_value" gorm:"uniqueIndex:idx_disallow_scope;size:128"`
	Level        string `json:"level" gorm:"size:16"`
	// UntilAt is a unix timestamp in seconds; zero for marks that never expire.
	UntilAt   int64  `json:"until_at"`
	Reason    string `json:"reason" gorm:"type:text"`
	UpdatedAt int64  `json:"updated_at" gorm:"autoUpdateTime"`
}

// UpsertDisallow installs or supersedes the mark for (credential, scope).
func UpsertDisallow(row *CredentialDisallow) error {
	err := DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "credential_id"}, {Name: "scope_kind"}, {Name: "scope_value"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"level", "until_at", "reason", "updated_at"}),
	}).Create(row).Error
	return errors.Wrapf(err, "upsert disallow for credential %d", row.CredentialId)
}

func DeleteDisallow(credentialId int, scopeKind, scopeValue string) error {
	err := DB.Delete(&CredentialDisallow{},
		"credential_id = ? AND scope_kind = ? AND scope_value = ?",
		credentialId, scopeKind, scopeValue).Error
	return errors.Wrapf(err, "delete disallow for credential %d", credentialId)
}

// GetActiveDisallows returns marks that are dead or not yet expired, for
// seeding the in-memory pool at startup.
func GetActiveDisallows(credentialIds []int, now int64) ([]*CredentialDisallow, error) {
	if len(credentialIds) == 0 {
		return nil, nil
	}
	var rows []*CredentialDisallow
	err := DB.
		Where("credential_id IN ?", credentialIds).
		Where("level = ? OR until_at = 0 OR until_at > ?", DisallowLevelDead, now).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "load active disallows")
	}
	return rows, nil
}

func (CredentialDisallow) TableName() string { return "credential_disallow" }
