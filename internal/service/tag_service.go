package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tapseries/site/internal/db"
	"github.com/tapseries/site/internal/logger"
)

var (
	ErrTagExists   = errors.New("tag already exists")
	ErrTagInUse    = errors.New("tag is associated with entries")
	ErrTagNotFound = errors.New("tag not found")
	ErrTagConflict = errors.New("tag name conflict")
	ErrTagName     = errors.New("invalid tag name")
)

// TagService wraps tag related operations.
type TagService struct {
	db  *gorm.DB
	log *zap.Logger
}

// TagUsage 描述标签的使用次数
type TagUsage struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// NewTagService creates a TagService instance.
func NewTagService(gdb *gorm.DB, log *zap.Logger) *TagService {
	return &TagService{db: gdb, log: logger.OrNop(log)}
}

// ParseTagNames splits a comma separated tag string. Candidates are trimmed,
// empty ones dropped, and duplicates collapsed keeping the first occurrence.
// Names compare exactly; no case folding.
func ParseTagNames(raw string) []string {
	parts := strings.Split(raw, ",")
	names := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// checkTagName accepts only names Sync could have produced: a single trimmed
// candidate of the comma split that fits the name column.
func checkTagName(name string) error {
	if names := ParseTagNames(name); len(names) != 1 || names[0] != name {
		return fmt.Errorf("%w %q: must be non-empty, without commas or surrounding spaces", ErrTagName, name)
	}
	if n := utf8.RuneCountInString(name); n > db.MaxTagNameLength {
		return fmt.Errorf("%w: %d characters, at most %d allowed", ErrTagName, n, db.MaxTagNameLength)
	}
	return nil
}

// TagsAsDisplayString joins the entry's tag names with ", ".
// Tags are always loaded ordered by name, so the result is stable.
func TagsAsDisplayString(entry *db.Entry) string {
	if entry == nil {
		return ""
	}
	return strings.Join(entry.TagNames(), ", ")
}

// Sync makes the entry's tag set equal to the tags named in raw, creating
// missing tags on the way. tx must be the transaction that also persists the
// entry so the whole change commits or rolls back as one unit. Only the
// difference against the current associations is written. entry.Tags is
// reloaded afterwards.
func (s *TagService) Sync(tx *gorm.DB, entry *db.Entry, raw string) error {
	if entry == nil || entry.ID == 0 {
		return errors.New("entry must be persisted before syncing tags")
	}

	names := ParseTagNames(raw)
	wanted := make(map[uint]struct{}, len(names))
	desired := make([]uint, 0, len(names))
	for _, name := range names {
		if err := checkTagName(name); err != nil {
			return err
		}
		tag, err := s.findOrCreate(tx, name)
		if err != nil {
			return err
		}
		if _, ok := wanted[tag.ID]; ok {
			continue
		}
		wanted[tag.ID] = struct{}{}
		desired = append(desired, tag.ID)
	}

	var current []db.EntryTag
	if err := tx.Where("entry_id = ?", entry.ID).Find(&current).Error; err != nil {
		return fmt.Errorf("load tag associations: %w", err)
	}

	have := make(map[uint]struct{}, len(current))
	stale := make([]uint, 0)
	for _, link := range current {
		have[link.TagID] = struct{}{}
		if _, ok := wanted[link.TagID]; !ok {
			stale = append(stale, link.TagID)
		}
	}

	missing := make([]db.EntryTag, 0)
	for _, tagID := range desired {
		if _, ok := have[tagID]; !ok {
			missing = append(missing, db.EntryTag{EntryID: entry.ID, TagID: tagID})
		}
	}

	if len(stale) > 0 {
		if err := tx.Where("entry_id = ? AND tag_id IN ?", entry.ID, stale).Delete(&db.EntryTag{}).Error; err != nil {
			return fmt.Errorf("remove tag associations: %w", err)
		}
	}
	if len(missing) > 0 {
		if err := tx.Create(&missing).Error; err != nil {
			return fmt.Errorf("add tag associations: %w", err)
		}
	}

	tags, err := tagsOfEntry(tx, entry.ID)
	if err != nil {
		return err
	}
	entry.Tags = tags
	return nil
}

// findOrCreate returns the tag with the exact name, creating it when absent.
// The insert runs in a nested transaction (a savepoint inside Sync's
// transaction) so a lost creation race only rolls back the insert. After
// such a race the lookup is retried once.
func (s *TagService) findOrCreate(tx *gorm.DB, name string) (*db.Tag, error) {
	tag, err := findTagByName(tx, name)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, ErrTagNotFound) {
		return nil, err
	}

	created := db.Tag{Name: name}
	err = tx.Transaction(func(inner *gorm.DB) error {
		return inner.Create(&created).Error
	})
	if err == nil {
		s.log.Debug("tag created", zap.Uint("tag_id", created.ID), zap.String("tag", name))
		return &created, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("create tag %q: %w", name, err)
	}

	s.log.Warn("tag created concurrently, retrying lookup", zap.String("tag", name))
	tag, err = findTagByName(tx, name)
	if errors.Is(err, ErrTagNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrTagConflict, name)
	}
	return tag, err
}

// Cloud computes, for each tag used by at least one published entry, the
// share of published tagged entries carrying it. Scores fall in (0, 1].
// kinds restricts the corpus; no kinds means pages and posts together.
// With no published tagged entries the result is an empty map.
func (s *TagService) Cloud(ctx context.Context, kinds ...db.Kind) (map[string]float64, error) {
	cloud := make(map[string]float64)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		total, err := countPublishedWithAnyTag(tx, kinds)
		if err != nil {
			return err
		}
		if total == 0 {
			return nil
		}

		usages, err := publishedUsage(tx, kinds)
		if err != nil {
			return err
		}
		for _, usage := range usages {
			if usage.Count == 0 {
				continue
			}
			cloud[usage.Name] = float64(usage.Count) / float64(total)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cloud, nil
}

// PublishedUsage 返回已发布内容中标签的使用统计
func (s *TagService) PublishedUsage(ctx context.Context, kinds ...db.Kind) ([]TagUsage, error) {
	return publishedUsage(s.db.WithContext(ctx), kinds)
}

// List returns every tag with the number of entries using it, orphans included.
func (s *TagService) List(ctx context.Context) ([]TagUsage, error) {
	var usages []TagUsage
	if err := s.db.WithContext(ctx).
		Table("tags").
		Select("tags.id, tags.name, COUNT(entry_tags.entry_id) AS count").
		Joins("LEFT JOIN entry_tags ON entry_tags.tag_id = tags.id").
		Group("tags.id, tags.name").
		Order("tags.name asc").
		Scan(&usages).Error; err != nil {
		return nil, err
	}
	return usages, nil
}

// FindByName looks a tag up by its exact name.
func (s *TagService) FindByName(ctx context.Context, name string) (*db.Tag, error) {
	return findTagByName(s.db.WithContext(ctx), name)
}

// Rename changes the tag name while keeping uniqueness. The new name must
// survive a round trip through the display string and Sync.
func (s *TagService) Rename(ctx context.Context, id uint, name string) (*db.Tag, error) {
	name = strings.TrimSpace(name)
	if err := checkTagName(name); err != nil {
		return nil, err
	}

	var tag db.Tag
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&tag, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTagNotFound
			}
			return err
		}

		var count int64
		if err := tx.Model(&db.Tag{}).Where("name = ? AND id <> ?", name, id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrTagExists
		}

		tag.Name = name
		if err := tx.Save(&tag).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrTagExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

// Delete removes a tag if it is not associated with entries.
func (s *TagService) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tag db.Tag
		if err := tx.First(&tag, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTagNotFound
			}
			return err
		}

		var count int64
		if err := tx.Model(&db.EntryTag{}).Where("tag_id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrTagInUse
		}

		if err := tx.Delete(&tag).Error; err != nil {
			return err
		}
		s.log.Info("tag deleted", zap.Uint("tag_id", id), zap.String("tag", tag.Name))
		return nil
	})
}

func findTagByName(tx *gorm.DB, name string) (*db.Tag, error) {
	var tag db.Tag
	if err := tx.Where("name = ?", name).First(&tag).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTagNotFound
		}
		return nil, err
	}
	return &tag, nil
}

func tagsOfEntry(tx *gorm.DB, entryID uint) ([]db.Tag, error) {
	var tags []db.Tag
	if err := tx.Model(&db.Tag{}).
		Joins("JOIN entry_tags ON entry_tags.tag_id = tags.id").
		Where("entry_tags.entry_id = ?", entryID).
		Order("tags.name asc").
		Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("load entry tags: %w", err)
	}
	return tags, nil
}

func countPublishedWithAnyTag(tx *gorm.DB, kinds []db.Kind) (int64, error) {
	var total int64
	query := tx.Model(&db.Entry{}).
		Joins("JOIN entry_tags ON entry_tags.entry_id = entries.id").
		Where("entries.status = ?", db.StatusPublished)
	query = whereKinds(query, kinds)

	if err := query.Distinct("entries.id").Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count published tagged entries: %w", err)
	}
	return total, nil
}

func publishedUsage(tx *gorm.DB, kinds []db.Kind) ([]TagUsage, error) {
	var usages []TagUsage
	query := tx.Table("tags").
		Select("tags.id, tags.name, COUNT(DISTINCT entries.id) AS count").
		Joins("JOIN entry_tags ON entry_tags.tag_id = tags.id").
		Joins("JOIN entries ON entries.id = entry_tags.entry_id").
		Where("entries.status = ?", db.StatusPublished)
	query = whereKinds(query, kinds)

	if err := query.
		Group("tags.id, tags.name").
		Order("tags.name asc").
		Scan(&usages).Error; err != nil {
		return nil, fmt.Errorf("count published tag usage: %w", err)
	}
	return usages, nil
}

func whereKinds(query *gorm.DB, kinds []db.Kind) *gorm.DB {
	if len(kinds) == 0 {
		return query
	}
	values := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		values = append(values, string(kind))
	}
	return query.Where("entries.kind IN ?", values)
}
