package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/blogpulse/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AdminService 校验管理口令，口令以 bcrypt 哈希保存在 users 表中。
type AdminService struct {
	db *gorm.DB
}

var _ Authorizer = (*AdminService)(nil)

func NewAdminService(gdb *gorm.DB) *AdminService {
	return &AdminService{db: gdb}
}

// EnsureAdmin creates the admin account or rotates its password hash.
func (s *AdminService) EnsureAdmin(username, password string) error {
	return db.EnsureUser(s.db, username, password)
}

// Authorize accepts the secret when it matches any admin account's password.
// With no admin configured every secret is rejected.
func (s *AdminService) Authorize(ctx context.Context, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ErrUnauthorized
	}

	var users []db.User
	if err := s.db.WithContext(ctx).Find(&users).Error; err != nil {
		return fmt.Errorf("load admin accounts: %w", err)
	}

	for _, user := range users {
		if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(secret)) == nil {
			return nil
		}
	}
	return ErrUnauthorized
}
