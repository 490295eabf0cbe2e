package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tapseries/site/internal/db"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:service-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	t.Cleanup(func() { _ = db.Close(gdb) })
	return gdb
}

func newTestServices(t *testing.T) (*gorm.DB, *EntryService, *TagService) {
	t.Helper()
	gdb := setupServiceTestDB(t)
	tags := NewTagService(gdb, nil)
	return gdb, NewEntryService(gdb, tags, nil), tags
}

func mustCreateEntry(t *testing.T, svc *EntryService, kind db.Kind, status db.Status, tags string) *db.Entry {
	t.Helper()
	entry, err := svc.Create(context.Background(), EntryInput{
		Kind:    kind,
		Title:   "entry " + tags,
		Content: "body",
		Tags:    tags,
		Status:  status,
	})
	if err != nil {
		t.Fatalf("create entry with tags %q: %v", tags, err)
	}
	return entry
}

func countRows(t *testing.T, gdb *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := gdb.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestParseTagNames(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{raw: "go, rust", want: []string{"go", "rust"}},
		{raw: " , ,  ", want: []string{}},
		{raw: "", want: []string{}},
		{raw: "go,go, Go", want: []string{"go", "Go"}},
		{raw: "  web dev  ,,cloud,", want: []string{"web dev", "cloud"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTagNames(tt.raw))
		})
	}
}

func TestSyncAssociatesParsedTags(t *testing.T) {
	_, entries, _ := newTestServices(t)

	entry := mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, "rust, go, go, ")

	require.Equal(t, []string{"go", "rust"}, entry.TagNames())
	assert.Equal(t, "go, rust", TagsAsDisplayString(entry))

	loaded, err := entries.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "go, rust", TagsAsDisplayString(loaded))
}

func TestSyncDisplayStringMatchesParsedSet(t *testing.T) {
	_, entries, _ := newTestServices(t)

	inputs := []string{
		"a,b,c",
		"c , b , a , a",
		"  ,x,, y ,x",
		"Go,go,GO",
		"single",
	}

	for _, raw := range inputs {
		entry := mustCreateEntry(t, entries, db.KindPage, db.StatusDraft, raw)

		want := ParseTagNames(raw)
		sort.Strings(want)

		var got []string
		if display := TagsAsDisplayString(entry); display != "" {
			got = strings.Split(display, ", ")
		}
		sort.Strings(got)

		if len(want) == 0 {
			assert.Empty(t, got, raw)
			continue
		}
		assert.Equal(t, want, got, raw)
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	gdb, entries, _ := newTestServices(t)
	ctx := context.Background()

	entry := mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, "go, rust")

	raw := "go, rust"
	for i := 0; i < 2; i++ {
		updated, err := entries.Update(ctx, entry.ID, EntryPatch{Tags: &raw})
		require.NoError(t, err)
		assert.Equal(t, []string{"go", "rust"}, updated.TagNames())
	}

	assert.EqualValues(t, 2, countRows(t, gdb, &db.Tag{}))
	assert.EqualValues(t, 2, countRows(t, gdb, &db.EntryTag{}))
}

func TestSyncReusesExistingTags(t *testing.T) {
	gdb, entries, _ := newTestServices(t)

	first := mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, "go")
	second := mustCreateEntry(t, entries, db.KindPage, db.StatusPublished, "go, web")

	require.Len(t, first.Tags, 1)
	require.Len(t, second.Tags, 2)
	assert.Equal(t, first.Tags[0].ID, second.Tags[0].ID)

	var goTags int64
	require.NoError(t, gdb.Model(&db.Tag{}).Where("name = ?", "go").Count(&goTags).Error)
	assert.EqualValues(t, 1, goTags)
}

func TestSyncReplacesStaleAssociations(t *testing.T) {
	gdb, entries, tags := newTestServices(t)
	ctx := context.Background()

	entry := mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, "a, b")

	raw := "b, c"
	updated, err := entries.Update(ctx, entry.ID, EntryPatch{Tags: &raw})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, updated.TagNames())

	// 被移除的标签保留为孤立标签
	orphan, err := tags.FindByName(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", orphan.Name)
	assert.EqualValues(t, 2, countRows(t, gdb, &db.EntryTag{}))
}

func TestSyncRejectsOverlongTagName(t *testing.T) {
	gdb, entries, tags := newTestServices(t)

	entry := mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, "go")
	long := strings.Repeat("t", db.MaxTagNameLength+1)

	err := gdb.Transaction(func(tx *gorm.DB) error {
		return tags.Sync(tx, entry, "rust, "+long)
	})
	assert.ErrorIs(t, err, ErrTagName)
	assert.EqualValues(t, 1, countRows(t, gdb, &db.Tag{}), "rolled back with the transaction")

	require.NoError(t, gdb.Transaction(func(tx *gorm.DB) error {
		return tags.Sync(tx, entry, strings.Repeat("t", db.MaxTagNameLength))
	}))
	assert.Len(t, entry.Tags, 1)
}

func TestSyncWhitespaceOnlyClearsTags(t *testing.T) {
	gdb, entries, _ := newTestServices(t)

	entry := mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, " , ,  ")
	assert.Empty(t, entry.Tags)
	assert.Equal(t, "", TagsAsDisplayString(entry))
	assert.EqualValues(t, 0, countRows(t, gdb, &db.Tag{}))

	tagged := mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, "go")
	raw := " , ,  "
	updated, err := entries.Update(context.Background(), tagged.ID, EntryPatch{Tags: &raw})
	require.NoError(t, err)
	assert.Empty(t, updated.Tags)
}

func TestSyncRetriesLookupAfterConcurrentCreate(t *testing.T) {
	gdb, entries, _ := newTestServices(t)

	// 第一次按名称查询落空后，模拟另一个写入者抢先创建了同名标签
	fired := false
	err := gdb.Callback().Query().After("gorm:query").Register("test:race_insert", func(tx *gorm.DB) {
		if fired {
			return
		}
		if _, ok := tx.Statement.Dest.(*db.Tag); !ok || !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			return
		}
		fired = true
		other := tx.Session(&gorm.Session{NewDB: true})
		other.Error = nil
		now := time.Now()
		if err := other.Exec("INSERT INTO tags (name, created_at, updated_at) VALUES (?, ?, ?)", "race", now, now).Error; err != nil {
			t.Errorf("simulate concurrent insert: %v", err)
		}
	})
	require.NoError(t, err)

	entry := mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, "race")

	assert.True(t, fired)
	assert.Equal(t, []string{"race"}, entry.TagNames())
	assert.EqualValues(t, 1, countRows(t, gdb, &db.Tag{}))
}

func TestSyncSurfacesPersistentConflict(t *testing.T) {
	gdb, entries, _ := newTestServices(t)

	// 每次创建前都插入同名标签，回滚到 savepoint 后重试查询仍然找不到
	err := gdb.Callback().Create().Before("gorm:create").Register("test:always_conflict", func(tx *gorm.DB) {
		tag, ok := tx.Statement.Dest.(*db.Tag)
		if !ok || tag.Name != "contested" {
			return
		}
		other := tx.Session(&gorm.Session{NewDB: true})
		other.Error = nil
		now := time.Now()
		_ = other.Exec("INSERT INTO tags (name, created_at, updated_at) VALUES (?, ?, ?)", tag.Name, now, now).Error
	})
	require.NoError(t, err)

	_, err = entries.Create(context.Background(), EntryInput{
		Kind:    db.KindPost,
		Title:   "conflicted",
		Content: "body",
		Tags:    "ok, contested",
		Status:  db.StatusPublished,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTagConflict)

	// 整个操作回滚
	assert.EqualValues(t, 0, countRows(t, gdb, &db.Entry{}))
	assert.EqualValues(t, 0, countRows(t, gdb, &db.Tag{}))
	assert.EqualValues(t, 0, countRows(t, gdb, &db.EntryTag{}))
}

func TestCloudScoresDistinctTagsAsOneOverN(t *testing.T) {
	_, entries, tags := newTestServices(t)

	for _, name := range []string{"a", "b", "c", "d"} {
		mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, name)
	}

	cloud, err := tags.Cloud(context.Background())
	require.NoError(t, err)
	require.Len(t, cloud, 4)
	for name, score := range cloud {
		assert.InDelta(t, 0.25, score, 1e-9, name)
	}
}

func TestCloudEmptyWithoutPublishedTaggedEntries(t *testing.T) {
	_, entries, tags := newTestServices(t)

	cloud, err := tags.Cloud(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, cloud)
	assert.Empty(t, cloud)

	mustCreateEntry(t, entries, db.KindPost, db.StatusDraft, "go, rust")
	mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, "")

	cloud, err = tags.Cloud(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cloud)
}

func TestCloudScenario(t *testing.T) {
	_, entries, tags := newTestServices(t)

	mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, "go,rust")
	mustCreateEntry(t, entries, db.KindPage, db.StatusPublished, "rust")
	withDuplicate := mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, "go, cloud, cloud")
	mustCreateEntry(t, entries, db.KindPost, db.StatusDraft, "secret, go")

	assert.Equal(t, []string{"cloud", "go"}, withDuplicate.TagNames(), "duplicate name collapses")

	cloud, err := tags.Cloud(context.Background())
	require.NoError(t, err)

	require.Len(t, cloud, 3)
	assert.InDelta(t, 2.0/3.0, cloud["go"], 1e-9)
	assert.InDelta(t, 2.0/3.0, cloud["rust"], 1e-9)
	assert.InDelta(t, 1.0/3.0, cloud["cloud"], 1e-9)
	assert.NotContains(t, cloud, "secret")

	for name, score := range cloud {
		assert.Greater(t, score, 0.0, name)
		assert.LessOrEqual(t, score, 1.0, name)
	}
}

func TestCloudFiltersByKind(t *testing.T) {
	_, entries, tags := newTestServices(t)

	mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, "go, rust")
	mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, "go")
	mustCreateEntry(t, entries, db.KindPage, db.StatusPublished, "about")

	posts, err := tags.Cloud(context.Background(), db.KindPost)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"go": 1, "rust": 0.5}, posts)

	pages, err := tags.Cloud(context.Background(), db.KindPage)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"about": 1}, pages)
}

func TestTagServiceListIncludesOrphans(t *testing.T) {
	gdb, entries, tags := newTestServices(t)

	mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, "go")
	mustCreateEntry(t, entries, db.KindPost, db.StatusDraft, "go")
	require.NoError(t, gdb.Create(&db.Tag{Name: "lonely"}).Error)

	usages, err := tags.List(context.Background())
	require.NoError(t, err)
	require.Len(t, usages, 2)
	assert.Equal(t, "go", usages[0].Name)
	assert.EqualValues(t, 2, usages[0].Count)
	assert.Equal(t, "lonely", usages[1].Name)
	assert.EqualValues(t, 0, usages[1].Count)

	published, err := tags.PublishedUsage(context.Background())
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.EqualValues(t, 1, published[0].Count)
}

func TestTagServiceRename(t *testing.T) {
	gdb, entries, tags := newTestServices(t)
	ctx := context.Background()

	entry := mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, "golang, rust")
	golang, err := tags.FindByName(ctx, "golang")
	require.NoError(t, err)

	renamed, err := tags.Rename(ctx, golang.ID, "  go ")
	require.NoError(t, err)
	assert.Equal(t, "go", renamed.Name)

	loaded, err := entries.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "go, rust", TagsAsDisplayString(loaded))

	_, err = tags.Rename(ctx, golang.ID, "rust")
	assert.ErrorIs(t, err, ErrTagExists)

	_, err = tags.Rename(ctx, golang.ID, "   ")
	assert.ErrorIs(t, err, ErrTagName)

	_, err = tags.Rename(ctx, golang.ID, strings.Repeat("标", db.MaxTagNameLength+1))
	assert.ErrorIs(t, err, ErrTagName)

	// 含逗号的名称经展示串再同步会被拆成两个标签
	_, err = tags.Rename(ctx, golang.ID, "go, rust")
	assert.ErrorIs(t, err, ErrTagName)
	_, err = tags.Rename(ctx, golang.ID, "c,")
	assert.ErrorIs(t, err, ErrTagName)

	loaded, err = entries.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "go, rust", TagsAsDisplayString(loaded))

	display := TagsAsDisplayString(loaded)
	resynced, err := entries.Update(ctx, entry.ID, EntryPatch{Tags: &display})
	require.NoError(t, err)
	assert.Equal(t, loaded.TagNames(), resynced.TagNames())

	_, err = tags.Rename(ctx, 9999, "anything")
	assert.ErrorIs(t, err, ErrTagNotFound)

	assert.EqualValues(t, 2, countRows(t, gdb, &db.Tag{}))
}

func TestTagServiceDelete(t *testing.T) {
	gdb, entries, tags := newTestServices(t)
	ctx := context.Background()

	mustCreateEntry(t, entries, db.KindPost, db.StatusPublished, "used")
	unused := db.Tag{Name: "unused"}
	require.NoError(t, gdb.Create(&unused).Error)

	used, err := tags.FindByName(ctx, "used")
	require.NoError(t, err)

	assert.ErrorIs(t, tags.Delete(ctx, used.ID), ErrTagInUse)
	require.NoError(t, tags.Delete(ctx, unused.ID))
	assert.ErrorIs(t, tags.Delete(ctx, unused.ID), ErrTagNotFound)

	_, err = tags.FindByName(ctx, "unused")
	assert.ErrorIs(t, err, ErrTagNotFound)
}

func TestTagsAsDisplayStringHandlesNil(t *testing.T) {
	assert.Equal(t, "", TagsAsDisplayString(nil))
	assert.Equal(t, "", TagsAsDisplayString(&db.Entry{}))
}
