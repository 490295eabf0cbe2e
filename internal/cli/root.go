package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tapseries/site/internal/config"
	"github.com/tapseries/site/internal/db"
	"github.com/tapseries/site/internal/logger"
	"github.com/tapseries/site/internal/service"
)

var (
	errInvalidID = errors.New("invalid id")
	errBadFlag   = errors.New("invalid flag")
)

// App holds everything a command needs. It is filled in by the root
// command's pre-run hook, after flags are parsed. A database passed in with
// WithDB is never closed by the App.
type App struct {
	configPath string
	output     string

	format  Format
	cfg     config.Config
	log     *zap.Logger
	db      *gorm.DB
	ownsDB  bool
	entries *service.EntryService
	tags    *service.TagService
}

// Option customises the root command.
type Option func(*App)

// WithDB makes the commands use an already opened database instead of the
// configured one. The caller keeps ownership of the connection.
func WithDB(gdb *gorm.DB) Option {
	return func(a *App) { a.db = gdb }
}

// WithLogger overrides the logger built from config.
func WithLogger(log *zap.Logger) Option {
	return func(a *App) { a.log = log }
}

// NewRootCommand builds the tapseries command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	return newApp(opts...).rootCommand()
}

// Execute runs the command tree with os.Args and releases the database
// afterwards, also when the command failed.
func Execute(ctx context.Context, opts ...Option) error {
	app := newApp(opts...)
	defer func() { _ = app.close() }()
	return app.rootCommand().ExecuteContext(ctx)
}

func newApp(opts ...Option) *App {
	app := &App{}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

func (a *App) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tapseries",
		Short:         "Manage pages, posts, tags and comments of a tapseries site",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errBadFlag, err)
	})

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ./tapseries.yaml)")
	cmd.PersistentFlags().StringVarP(&a.output, "output", "o", string(FormatText), "output format: text or json")

	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newSeedCmd(a))
	cmd.AddCommand(newEntryCmd(a))
	cmd.AddCommand(newBrowseCmd(a))
	cmd.AddCommand(newCommentCmd(a))
	cmd.AddCommand(newTagCmd(a))

	return cmd
}

func (a *App) init(cmd *cobra.Command) error {
	format, err := parseFormat(a.output)
	if err != nil {
		return err
	}
	a.format = format

	if a.db == nil || a.log == nil {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}

	if a.log == nil {
		base, err := logger.New(a.cfg.Log)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		a.log = base
	}
	var runID string
	a.log, runID = logger.WithRun(a.log)
	a.log = a.log.With(zap.String("command", cmd.CommandPath()))

	if a.db == nil {
		gdb, err := db.Open(a.cfg.Database)
		if err != nil {
			a.log.Error("open database failed", zap.String("driver", a.cfg.Database.Driver), zap.Error(err))
			return err
		}
		a.db = gdb
		a.ownsDB = true
	}

	a.tags = service.NewTagService(a.db, a.log)
	a.entries = service.NewEntryService(a.db, a.tags, a.log)

	a.log.Debug("command started", zap.String("run_id", runID))
	return nil
}

func (a *App) close() error {
	if a.log != nil {
		_ = a.log.Sync()
	}
	if !a.ownsDB {
		return nil
	}
	a.ownsDB = false
	return db.Close(a.db)
}

func parseID(raw, what string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 0)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %s %q", errInvalidID, what, raw)
	}
	return uint(id), nil
}

// IsUserError reports whether err was caused by bad input or a missing record
// rather than by the store itself.
func IsUserError(err error) bool {
	for _, target := range []error{
		service.ErrEntryNotFound,
		service.ErrTagNotFound,
		service.ErrTagExists,
		service.ErrTagInUse,
		service.ErrTagName,
		service.ErrInvalidEntry,
		service.ErrInvalidComment,
		db.ErrUnknownKind,
		db.ErrUnknownStatus,
		errInvalidID,
		errUnknownFormat,
		errBadFlag,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
