package db

import (
	"time"

	"gorm.io/gorm"
)

// Post 是文章目录中的一条记录，Slug 即前端 data-post 使用的文章 ID
type Post struct {
	gorm.Model
	Slug        string `gorm:"size:120;uniqueIndex;not null"`
	Title       string `gorm:"not null"`
	Body        string `gorm:"type:text"`
	Category    string `gorm:"size:60;index"`
	PublishedAt time.Time
}
