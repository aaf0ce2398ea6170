package db

import "time"

// LocalEntry 以命名空间字符串键 + JSON 值的形式保存回退数据，
// 键格式与前端 localStorage 保持一致，例如 likes_{post}、comments_{post}。
type LocalEntry struct {
	ID        uint   `gorm:"primaryKey"`
	Key       string `gorm:"size:255;uniqueIndex;not null"`
	Value     string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定自定义表名。
func (LocalEntry) TableName() string {
	return "local_entries"
}
