package common

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Username string `gorm:"unique"`
	Password string
	IsAdmin  bool
}

const (
	CredentialTypePassword   = "password"
	CredentialTypePrivateKey = "private_key"
)

// Credential is a reusable secret bundle independent of any one
// session. Password and PrivateKey columns hold ciphertext; IV is the
// iv both were encrypted under.
type Credential struct {
	gorm.Model
	UserID     uint `gorm:"index"`
	Name       string
	Type       string
	Username   string
	Password   string
	PrivateKey string
	Passphrase string
	IV         string
}

// Session is a saved SSH connection profile. Password and PrivateKey
// hold ciphertext; when CredentialID is set they are a denormalized
// cache of the referenced credential, not a second source of truth.
type Session struct {
	gorm.Model
	UserID          uint `gorm:"index"`
	Name            string
	Hostname        string
	Port            int
	Username        string
	Password        string
	PrivateKey      string
	KeyPassphrase   string
	IV              string
	CredentialID    *uint
	ConsoleSnapshot string
}

type Tag struct {
	gorm.Model
	UserID uint   `gorm:"index:idx_tags_user_name,unique"`
	Name   string `gorm:"index:idx_tags_user_name,unique"`
}

type SessionTag struct {
	SessionID uint `gorm:"primaryKey"`
	TagID     uint `gorm:"primaryKey"`
	CreatedAt time.Time
}
