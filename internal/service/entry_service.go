package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tapseries/site/internal/db"
	"github.com/tapseries/site/internal/logger"
)

var (
	ErrEntryNotFound = errors.New("entry not found")
)

// EntryService wraps page and post operations. Tag changes go through the
// TagService inside the same transaction as the entry write.
type EntryService struct {
	db   *gorm.DB
	tags *TagService
	log  *zap.Logger
}

// EntryInput represents fields accepted when creating an entry.
type EntryInput struct {
	Kind    db.Kind   `json:"kind" validate:"required,oneof=page post"`
	Title   string    `json:"title" validate:"required,max=1024"`
	Content string    `json:"content" validate:"required,max=4096"`
	Tags    string    `json:"tags" validate:"max=1024,tagnames=255"`
	Status  db.Status `json:"status" validate:"required,oneof=1 2"`
}

// EntryPatch describes a partial update. Nil fields keep the stored value;
// tags are only re-synced when Tags is set.
type EntryPatch struct {
	Title   *string
	Content *string
	Tags    *string
	Status  *db.Status
}

// EntryFilter describes filters for listing entries.
type EntryFilter struct {
	Kind    db.Kind
	Status  db.Status
	TagName string
	Search  string
	Page    int
	PerPage int
}

// EntryListResult aggregates paginated list data and counters.
type EntryListResult struct {
	Entries        []db.Entry `json:"entries"`
	Total          int64      `json:"total"`
	PublishedCount int64      `json:"published_count"`
	DraftCount     int64      `json:"draft_count"`
	TotalPages     int        `json:"total_pages"`
	Page           int        `json:"page"`
	PerPage        int        `json:"per_page"`
}

// CommentInput represents fields accepted when adding a comment.
type CommentInput struct {
	Author  string `json:"author" validate:"required,max=128"`
	Content string `json:"content" validate:"required,max=4096"`
}

// NewEntryService creates an EntryService instance.
func NewEntryService(gdb *gorm.DB, tags *TagService, log *zap.Logger) *EntryService {
	if tags == nil {
		tags = NewTagService(gdb, log)
	}
	return &EntryService{db: gdb, tags: tags, log: logger.OrNop(log)}
}

// Create persists an entry and associates its tags in one transaction.
func (s *EntryService) Create(ctx context.Context, input EntryInput) (*db.Entry, error) {
	input = normalizeEntryInput(input)
	if err := validateInput(ErrInvalidEntry, input); err != nil {
		return nil, err
	}

	entry := db.Entry{
		Kind:    input.Kind,
		Title:   input.Title,
		Content: input.Content,
		Status:  input.Status,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&entry).Error; err != nil {
			return fmt.Errorf("create entry: %w", err)
		}
		return s.tags.Sync(tx, &entry, input.Tags)
	}); err != nil {
		return nil, err
	}

	s.log.Info("entry created",
		zap.Uint("entry_id", entry.ID),
		zap.String("kind", string(entry.Kind)),
		zap.Int("tags", len(entry.Tags)),
	)
	return &entry, nil
}

// Update applies a partial update to an existing entry. The kind never changes.
func (s *EntryService) Update(ctx context.Context, id uint, patch EntryPatch) (*db.Entry, error) {
	var entry db.Entry

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&entry, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEntryNotFound
			}
			return err
		}

		input := EntryInput{
			Kind:    entry.Kind,
			Title:   entry.Title,
			Content: entry.Content,
			Status:  entry.Status,
		}
		if patch.Title != nil {
			input.Title = *patch.Title
		}
		if patch.Content != nil {
			input.Content = *patch.Content
		}
		if patch.Status != nil {
			input.Status = *patch.Status
		}
		if patch.Tags != nil {
			input.Tags = *patch.Tags
		}

		input = normalizeEntryInput(input)
		if err := validateInput(ErrInvalidEntry, input); err != nil {
			return err
		}

		entry.Title = input.Title
		entry.Content = input.Content
		entry.Status = input.Status
		if err := tx.Omit(clause.Associations).Save(&entry).Error; err != nil {
			return fmt.Errorf("update entry: %w", err)
		}

		if patch.Tags != nil {
			return s.tags.Sync(tx, &entry, input.Tags)
		}

		tags, err := tagsOfEntry(tx, entry.ID)
		if err != nil {
			return err
		}
		entry.Tags = tags
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("entry updated", zap.Uint("entry_id", entry.ID), zap.Bool("tags_synced", patch.Tags != nil))
	return &entry, nil
}

// Get fetches an entry by id with tags (by name) and comments (oldest first) preloaded.
func (s *EntryService) Get(ctx context.Context, id uint) (*db.Entry, error) {
	var entry db.Entry
	if err := s.db.WithContext(ctx).
		Preload("Tags", func(q *gorm.DB) *gorm.DB { return q.Order("tags.name asc") }).
		Preload("Comments", func(q *gorm.DB) *gorm.DB { return q.Order("comments.created_at asc, comments.id asc") }).
		First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// Delete removes an entry together with its comments and tag associations.
// Tags themselves stay, even when they end up orphaned.
func (s *EntryService) Delete(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry db.Entry
		if err := tx.Select("id").First(&entry, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEntryNotFound
			}
			return err
		}

		if err := tx.Where("entry_id = ?", id).Delete(&db.Comment{}).Error; err != nil {
			return fmt.Errorf("delete comments: %w", err)
		}
		if err := tx.Where("entry_id = ?", id).Delete(&db.EntryTag{}).Error; err != nil {
			return fmt.Errorf("delete tag associations: %w", err)
		}
		if err := tx.Delete(&db.Entry{}, id).Error; err != nil {
			return fmt.Errorf("delete entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("entry deleted", zap.Uint("entry_id", id))
	return nil
}

// List provides paginated entries with aggregated counters based on filters.
func (s *EntryService) List(ctx context.Context, filter EntryFilter) (*EntryListResult, error) {
	result := &EntryListResult{Page: filter.Page, PerPage: filter.PerPage}
	if result.Page <= 0 {
		result.Page = 1
	}
	if result.PerPage <= 0 {
		result.PerPage = 10
	}

	base := s.db.WithContext(ctx)

	if err := s.applyFilters(base.Model(&db.Entry{}), filter, true).Count(&result.Total).Error; err != nil {
		return nil, err
	}

	offset := (result.Page - 1) * result.PerPage

	var entries []db.Entry
	dataQuery := base.Model(&db.Entry{}).
		Preload("Tags", func(q *gorm.DB) *gorm.DB { return q.Order("tags.name asc") })
	dataQuery = s.applyFilters(dataQuery, filter, true)
	if err := dataQuery.
		Order("entries.created_at desc, entries.id desc").
		Limit(result.PerPage).
		Offset(offset).
		Find(&entries).Error; err != nil {
		return nil, err
	}

	if err := s.applyFilters(base.Model(&db.Entry{}), filter, false).
		Where("entries.status = ?", db.StatusPublished).
		Count(&result.PublishedCount).Error; err != nil {
		return nil, err
	}
	if err := s.applyFilters(base.Model(&db.Entry{}), filter, false).
		Where("entries.status = ?", db.StatusDraft).
		Count(&result.DraftCount).Error; err != nil {
		return nil, err
	}

	if result.Total == 0 {
		result.TotalPages = 1
	} else {
		result.TotalPages = int((result.Total + int64(result.PerPage) - 1) / int64(result.PerPage))
	}

	result.Entries = entries
	return result, nil
}

// ListPublished 返回已发布的内容，最新的在前；tag 非空时只返回带该标签的内容。
func (s *EntryService) ListPublished(ctx context.Context, kind db.Kind, tag string) ([]db.Entry, error) {
	query := s.db.WithContext(ctx).Model(&db.Entry{}).
		Preload("Tags", func(q *gorm.DB) *gorm.DB { return q.Order("tags.name asc") }).
		Where("entries.status = ?", db.StatusPublished)
	query = s.applyFilters(query, EntryFilter{Kind: kind, TagName: strings.TrimSpace(tag)}, false)

	var entries []db.Entry
	if err := query.Order("entries.created_at desc, entries.id desc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// AddComment attaches a comment to an existing entry.
func (s *EntryService) AddComment(ctx context.Context, entryID uint, input CommentInput) (*db.Comment, error) {
	input.Author = strings.TrimSpace(input.Author)
	input.Content = strings.TrimSpace(input.Content)
	if err := validateInput(ErrInvalidComment, input); err != nil {
		return nil, err
	}

	comment := db.Comment{EntryID: entryID, Author: input.Author, Content: input.Content}
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureEntryExists(tx, entryID); err != nil {
			return err
		}
		return tx.Create(&comment).Error
	}); err != nil {
		return nil, err
	}

	s.log.Debug("comment added", zap.Uint("entry_id", entryID), zap.Uint("comment_id", comment.ID))
	return &comment, nil
}

// Comments lists an entry's comments, oldest first.
func (s *EntryService) Comments(ctx context.Context, entryID uint) ([]db.Comment, error) {
	var comments []db.Comment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureEntryExists(tx, entryID); err != nil {
			return err
		}
		return tx.Where("entry_id = ?", entryID).
			Order("created_at asc, id asc").
			Find(&comments).Error
	})
	if err != nil {
		return nil, err
	}
	return comments, nil
}

// CommentCounts returns the number of comments per entry id. Entries without
// comments are absent from the map.
func (s *EntryService) CommentCounts(ctx context.Context, entryIDs []uint) (map[uint]int, error) {
	counts := make(map[uint]int, len(entryIDs))
	if len(entryIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		EntryID uint
		Count   int
	}
	if err := s.db.WithContext(ctx).
		Model(&db.Comment{}).
		Select("entry_id, COUNT(*) AS count").
		Where("entry_id IN ?", entryIDs).
		Group("entry_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.EntryID] = row.Count
	}
	return counts, nil
}

// CommentCountLabel renders a comment count for listings.
func CommentCountLabel(n int) string {
	switch {
	case n <= 0:
		return "No comments"
	case n == 1:
		return "1 comment"
	default:
		return fmt.Sprintf("%d comments", n)
	}
}

func (s *EntryService) applyFilters(query *gorm.DB, filter EntryFilter, includeStatus bool) *gorm.DB {
	if filter.Kind != "" {
		query = query.Where("entries.kind = ?", filter.Kind)
	}

	if includeStatus && filter.Status != 0 {
		query = query.Where("entries.status = ?", filter.Status)
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + search + "%"
		query = query.Where("(entries.title LIKE ? OR entries.content LIKE ?)", like, like)
	}

	if filter.TagName != "" {
		subQuery := s.db.Model(&db.EntryTag{}).
			Select("entry_tags.entry_id").
			Joins("JOIN tags ON tags.id = entry_tags.tag_id").
			Where("tags.name = ?", filter.TagName)
		query = query.Where("entries.id IN (?)", subQuery)
	}

	return query
}

func normalizeEntryInput(input EntryInput) EntryInput {
	input.Title = strings.TrimSpace(input.Title)
	if input.Status == 0 {
		input.Status = db.StatusDraft
	}
	return input
}

func ensureEntryExists(tx *gorm.DB, id uint) error {
	var count int64
	if err := tx.Model(&db.Entry{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrEntryNotFound
	}
	return nil
}
