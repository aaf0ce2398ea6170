package db

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB 是本地回退库的全局连接实例
var DB *gorm.DB

// Init 打开本地 SQLite 数据库并执行自动迁移。
// databasePath 为空时回退到默认值 blogpulse.db。
func Init(databasePath string) error {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		path = "blogpulse.db"
	}

	if err := ensureParentDir(path); err != nil {
		return err
	}

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return err
	}

	if err := Migrate(gdb); err != nil {
		return err
	}

	DB = gdb
	return nil
}

// Migrate 为本地模型创建表结构，测试中也直接调用。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&LocalEntry{},
		&Post{},
		&User{},
	)
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("database path parent is not a directory")
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}

	return err
}
