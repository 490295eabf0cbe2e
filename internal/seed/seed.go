// Package seed fills an empty store with sample pages, posts and comments.
package seed

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tapseries/site/internal/db"
	"github.com/tapseries/site/internal/logger"
	"github.com/tapseries/site/internal/service"
)

// Result 汇总本次写入的数据量
type Result struct {
	Skipped  bool `json:"skipped"`
	Entries  int  `json:"entries"`
	Comments int  `json:"comments"`
}

type sampleEntry struct {
	kind     db.Kind
	title    string
	content  string
	tags     string
	status   db.Status
	comments []service.CommentInput
}

var samples = []sampleEntry{
	{
		kind:    db.KindPage,
		title:   "关于",
		content: "## 你好\n\n这里记录写代码、读书和做饭的日常。\n\n- 主要写 Go 与数据库\n- 偶尔写点生活",
		tags:    "关于, 生活",
		status:  db.StatusPublished,
	},
	{
		kind:    db.KindPage,
		title:   "友情链接",
		content: "整理中。",
		status:  db.StatusDraft,
	},
	{
		kind:    db.KindPost,
		title:   "用 GORM 管理多对多关联",
		content: "关联表只保存 `(entry_id, tag_id)`，标签本身不保存反向引用。\n\n同步时先算差集，再增删关联行。",
		tags:    "Go, 数据库, 技术",
		status:  db.StatusPublished,
		comments: []service.CommentInput{
			{Author: "alice", Content: "差集同步比先清空再重建更省写入。"},
			{Author: "bob", Content: "savepoint 那段讲得清楚。"},
		},
	},
	{
		kind:    db.KindPost,
		title:   "SQLite 的唯一索引与并发写入",
		content: "同名标签并发创建时，唯一索引会拒绝第二次插入，此时重新查询一次即可。",
		tags:    "数据库, SQLite, 技术",
		status:  db.StatusPublished,
		comments: []service.CommentInput{
			{Author: "carol", Content: "postgres 下也一样吗？"},
		},
	},
	{
		kind:    db.KindPost,
		title:   "周末做了一锅红烧肉",
		content: "冰糖炒色，小火慢炖一个半小时。",
		tags:    "生活, 做饭",
		status:  db.StatusPublished,
	},
	{
		kind:    db.KindPost,
		title:   "命令行工具的输出格式",
		content: "文本输出给人看，`--output json` 给脚本用。",
		tags:    "Go, 工具",
		status:  db.StatusPublished,
	},
	{
		kind:    db.KindPost,
		title:   "还没写完的草稿",
		content: "TBD",
		tags:    "草稿, Go",
		status:  db.StatusDraft,
	},
}

// Run writes the sample data unless entries already exist. With force the
// samples are added regardless.
func Run(ctx context.Context, gdb *gorm.DB, entries *service.EntryService, log *zap.Logger, force bool) (Result, error) {
	log = logger.OrNop(log)

	var count int64
	if err := gdb.WithContext(ctx).Model(&db.Entry{}).Count(&count).Error; err != nil {
		return Result{}, err
	}
	if count > 0 && !force {
		log.Info("entries already exist, skipping seed", zap.Int64("entries", count))
		return Result{Skipped: true}, nil
	}

	var result Result
	for _, sample := range samples {
		entry, err := entries.Create(ctx, service.EntryInput{
			Kind:    sample.kind,
			Title:   sample.title,
			Content: sample.content,
			Tags:    sample.tags,
			Status:  sample.status,
		})
		if err != nil {
			return result, fmt.Errorf("seed %q: %w", sample.title, err)
		}
		result.Entries++

		for _, comment := range sample.comments {
			if _, err := entries.AddComment(ctx, entry.ID, comment); err != nil {
				return result, fmt.Errorf("seed comment on %q: %w", sample.title, err)
			}
			result.Comments++
		}
	}

	log.Info("seed finished", zap.Int("entries", result.Entries), zap.Int("comments", result.Comments))
	return result, nil
}
