package db

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind distinguishes pages from posts. Both share one table and one tag relation.
type Kind string

const (
	KindPage Kind = "page"
	KindPost Kind = "post"
)

var (
	ErrUnknownKind   = errors.New("unknown entry kind")
	ErrUnknownStatus = errors.New("unknown status")
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindPage, KindPost}

// ParseKind accepts page/post in any case, plural forms included.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "page", "pages":
		return KindPage, nil
	case "post", "posts":
		return KindPost, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownKind, raw)
	}
}

// Status 为内容状态，取值与原有数据保持一致：1 草稿，2 已发布。
type Status int

const (
	StatusDraft     Status = 1
	StatusPublished Status = 2
)

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusPublished
}

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusPublished:
		return "Published"
	}
	return "Unknown"
}

// ParseStatus accepts draft/published (any case) or the numeric values.
func ParseStatus(raw string) (Status, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	switch trimmed {
	case "draft":
		return StatusDraft, nil
	case "published", "publish":
		return StatusPublished, nil
	}

	if n, err := strconv.Atoi(trimmed); err == nil && Status(n).Valid() {
		return Status(n), nil
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownStatus, raw)
}

// Entry is a page or a post.
type Entry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Kind      Kind      `gorm:"size:16;not null;index" json:"kind"`
	Title     string    `gorm:"size:1024;not null" json:"title"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Status    Status    `gorm:"not null;default:1;index" json:"status"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Tags      []Tag     `gorm:"many2many:entry_tags;" json:"tags"`
	Comments  []Comment `gorm:"constraint:OnDelete:CASCADE;" json:"comments,omitempty"`
}

// IsPublished reports whether the entry is visible to readers.
func (e *Entry) IsPublished() bool {
	return e.Status == StatusPublished
}

// TagNames returns the names of the loaded tags in their loaded order.
func (e *Entry) TagNames() []string {
	names := make([]string, 0, len(e.Tags))
	for _, tag := range e.Tags {
		names = append(names, tag.Name)
	}
	return names
}
