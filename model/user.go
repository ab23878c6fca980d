package model

import (
	"github.com/Laisky/errors/v2"
)

const (
	RoleCommon = 1
	RoleAdmin  = 10
	RoleRoot   = 100

	UserStatusEnabled  = 1
	UserStatusDisabled = 2
)

type User struct {
	Id          int    `json:"id" gorm:"primaryKey"`
	Username    string `json:"username" gorm:"uniqueIndex;size:64"`
	Password    string `json:"-" gorm:"size:128"`
	DisplayName string `json:"display_name" gorm:"size:128"`
	Role        int    `json:"role" gorm:"default:1"`
	Status      int    `json:"status" gorm:"default:1"`
	CreatedAt   int64  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   int64  `json:"updated_at" gorm:"autoUpdateTime"`
}

func GetUserById(id int) (*User, error) {
	var user User
	if err := DB.First(&user, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(err, "get user %d", id)
	}
	return &user, nil
}

func GetAllUsers() ([]*User, error) {
	var users []*User
	if err := DB.Order("id").Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return users, nil
}

func (u *User) Insert() error {
	return errors.Wrap(DB.Create(u).Error, "insert user")
}

func (u *User) Update() error {
	return errors.Wrap(
		DB.Model(u).Select("username", "display_name", "role", "status").Updates(u).Error,
		"update user")
}

// UpdatePassword hashes are produced by the caller (common.Password2Hash).
func (u *User) UpdatePassword(hashed string) error {
	return errors.Wrap(
		DB.Model(u).Update("password", hashed).Error,
		"update user password")
}

func DeleteUserById(id int) error {
	return errors.Wrapf(DB.Delete(&User{}, "id = ?", id).Error, "delete user %d", id)
}
