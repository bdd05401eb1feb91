package common

import (
	"errors"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"webssh/secrets"
)

type API struct {
	db     *gorm.DB
	engine *secrets.Engine
}

func NewAPI(dbPath string, engine *secrets.Engine) (*API, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&User{}, &Credential{}, &Session{}, &Tag{}, &SessionTag{}); err != nil {
		return nil, err
	}
	return &API{db: db, engine: engine}, nil
}

func (api *API) GetUserByName(username string) *User {
	var user User
	if api.db.Where("username = ?", username).First(&user).Error != nil {
		return nil
	}
	return &user
}

func (api *API) CreateUser(user User) error {
	return api.db.Create(&user).Error
}

func (api *API) UpdateUser(user User) error {
	return api.db.Save(&user).Error
}

func (api *API) Login(username, password string) (*User, error) {
	var user User

	if err := api.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("user not found")
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, errors.New("invalid password")
	}

	return &user, nil
}
