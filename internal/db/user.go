package db

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User 是可以执行评论删除等管理操作的账号，Password 保存 bcrypt 哈希
type User struct {
	gorm.Model
	Username string `gorm:"unique;not null"`
	Password string `gorm:"not null"`
}

// EnsureUser 存在性检查：若用户名与密码均非空，则创建或更新对应账号的 bcrypt 哈希。
func EnsureUser(gdb *gorm.DB, username, password string) error {
	trimmedUser := strings.TrimSpace(username)
	trimmedPassword := strings.TrimSpace(password)
	if trimmedUser == "" || trimmedPassword == "" {
		return nil
	}

	if gdb == nil {
		return errors.New("database not initialized")
	}

	var existing User
	err := gdb.Where("username = ?", trimmedUser).First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if err == nil && bcrypt.CompareHashAndPassword([]byte(existing.Password), []byte(trimmedPassword)) == nil {
		return nil
	}

	hashed, hashErr := bcrypt.GenerateFromPassword([]byte(trimmedPassword), bcrypt.DefaultCost)
	if hashErr != nil {
		return hashErr
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return gdb.Create(&User{Username: trimmedUser, Password: string(hashed)}).Error
	}
	return gdb.Model(&existing).Update("password", string(hashed)).Error
}
