package db

import "time"

// MaxTagNameLength 与 tags.name 的列宽一致，按字符计。
const MaxTagNameLength = 255

// Tag 定义了标签模型。标签不持有反向引用，关联的内容通过 entry_tags 查询得到。
type Tag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntryTag 是内容与标签之间的关联记录。
type EntryTag struct {
	EntryID uint `gorm:"primaryKey"`
	TagID   uint `gorm:"primaryKey;index"`
}

// Comment belongs to exactly one entry and is removed with it.
type Comment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EntryID   uint      `gorm:"not null;index" json:"entry_id"`
	Author    string    `gorm:"size:128;not null" json:"author"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
