package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nhle/hrnotify/internal/app"
	"github.com/nhle/hrnotify/internal/cache"
	"github.com/nhle/hrnotify/internal/credential"
	"github.com/nhle/hrnotify/internal/hrms"
	"github.com/nhle/hrnotify/internal/live"
	"github.com/nhle/hrnotify/internal/model"
	"github.com/nhle/hrnotify/internal/session"
	"github.com/nhle/hrnotify/internal/store"
	appsync "github.com/nhle/hrnotify/internal/sync"
)

type options struct {
	configPath string
	logFile    string
	token      string
	watch      bool
	noLive     bool
	initConfig bool
}

func main() {
	_ = godotenv.Load()

	var opts options
	pflag.StringVarP(&opts.configPath, "config", "c", model.DefaultConfigPath(), "path to the config file")
	pflag.StringVar(&opts.logFile, "log-file", "", "log file (overrides log.file)")
	pflag.StringVar(&opts.token, "token", os.Getenv("HRNOTIFY_TOKEN"), "sign in with this bearer token")
	pflag.BoolVarP(&opts.watch, "watch", "w", false, "print notifications as JSON lines instead of starting the UI")
	pflag.BoolVar(&opts.noLive, "no-live", false, "disable live updates and rely on polling")
	pflag.BoolVar(&opts.initConfig, "init-config", false, "write the default config file and exit")
	pflag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "hrnotify: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := model.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.initConfig {
		if err := model.SaveConfig(opts.configPath, cfg); err != nil {
			return err
		}
		fmt.Println("wrote", opts.configPath)
		return nil
	}
	if opts.logFile != "" {
		cfg.Log.File = opts.logFile
	}
	if opts.noLive {
		cfg.Live.Enabled = false
	}

	logger, err := initLogger(cfg.Log, opts.watch)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	if err := os.MkdirAll(filepath.Dir(cfg.Cache.DBPath), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	db, err := store.NewSQLiteStore(cfg.Cache.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Cache.ReceiptRetention > 0 {
		pruned, err := db.PruneReceipts(ctx, time.Now().Add(-cfg.Cache.ReceiptRetention))
		if err != nil {
			logger.Warn("pruning read receipts", zap.Error(err))
		} else if pruned > 0 {
			logger.Info("pruned read receipts", zap.Int64("count", pruned))
		}
	}

	vault, err := credential.Open(filepath.Join(model.ConfigDir(), "credentials"))
	if err != nil {
		return err
	}

	sess := session.New(vault, session.WithLogger(logger.Named("session")))
	if opts.token != "" {
		if _, err := sess.Login(opts.token); err != nil {
			return fmt.Errorf("signing in with --token: %w", err)
		}
	} else if _, err := sess.Restore(); err != nil {
		logger.Warn("restoring session", zap.Error(err))
	}

	client := hrms.NewClient(cfg.Server.BaseURL, sess,
		hrms.WithTimeout(cfg.Server.RequestTimeout),
		hrms.WithLogger(logger.Named("hrms")),
	)
	notifications := hrms.NewNotifications(client)

	reconciler := cache.New(notifications,
		cache.WithLogger(logger.Named("cache")),
		cache.WithStaleAfter(cfg.Cache.StaleAfter),
		cache.WithReceiptStore(db),
	)
	if sess.Authenticated() {
		if err := reconciler.SetAccount(ctx, sess.Account()); err != nil {
			logger.Warn("loading read receipts", zap.Error(err))
		}
	}

	poller := appsync.New(reconciler, sess,
		appsync.WithInterval(time.Duration(cfg.Display.RefreshIntervalSec)*time.Second),
		appsync.WithDropdownSize(cfg.Display.DropdownSize),
		appsync.WithLogger(logger.Named("sync")),
	)

	channel := live.NewChannel(
		live.Config{
			StreamURL: cfg.Server.StreamURL(),
			Policy: live.Policy{
				MaxAttempts: cfg.Live.MaxReconnectAttempts,
				Delay:       cfg.Live.ReconnectDelay,
			},
		},
		sess,
		live.NewSSETransport(client.HTTPClient(), logger.Named("sse")),
		poller.LiveHandlers(),
		live.WithLogger(logger.Named("live")),
	)
	channel.SetEnabled(cfg.Live.Enabled)
	defer channel.Close()

	sess.OnInvalidate(func(reason error) {
		logger.Info("session ended; stopping live updates", zap.Error(reason))
		channel.Deactivate()
		reconciler.Reset()
	})

	if opts.watch {
		return watch(ctx, sess, poller, channel, logger)
	}

	root := app.New(app.Services{
		Session:       sess,
		Notifications: notifications,
		Reconciler:    reconciler,
		Poller:        poller,
		Channel:       channel,
		Logger:        logger,
		PageSize:      cfg.Display.PageSize,
		DropdownSize:  cfg.Display.DropdownSize,
	})

	p := tea.NewProgram(root, tea.WithAltScreen())
	_, err = p.Run()
	poller.Stop()
	return err
}

// initLogger writes JSON logs to file. The terminal belongs to the UI, so
// stderr is used only in watch mode or when no file is configured.
func initLogger(cfg model.LogConfig, watch bool) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch {
	case watch:
		zc.OutputPaths = []string{"stderr"}
	case cfg.File != "":
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, err
		}
		zc.OutputPaths = []string{cfg.File}
	default:
		return zap.NewNop(), nil
	}
	zc.ErrorOutputPaths = zc.OutputPaths
	return zc.Build()
}

// watch runs without a UI until interrupted, printing every notification
// and count update.
func watch(ctx context.Context, sess *session.Manager, poller *appsync.Poller, channel *live.Channel, logger *zap.Logger) error {
	if !sess.Authenticated() {
		return errors.New("not signed in: pass --token or sign in from the UI first")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = poller.Start()
	defer poller.Stop()

	if err := channel.Activate(); err != nil && !errors.Is(err, live.ErrDisabled) {
		logger.Warn("live updates unavailable", zap.Error(err))
	}

	return appsync.Watch(ctx, poller.Results(), os.Stdout)
}
