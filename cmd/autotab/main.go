package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/atinylittleshell/autotab/internal/analytics"
	"github.com/atinylittleshell/autotab/internal/cache"
	"github.com/atinylittleshell/autotab/internal/config"
	"github.com/atinylittleshell/autotab/internal/coordinator"
	"github.com/atinylittleshell/autotab/internal/core"
	"github.com/atinylittleshell/autotab/internal/environment"
	"github.com/atinylittleshell/autotab/internal/failure"
	"github.com/atinylittleshell/autotab/internal/llm"
	"github.com/atinylittleshell/autotab/internal/playground"
	"github.com/atinylittleshell/autotab/internal/settings"
	"github.com/atinylittleshell/autotab/pkg/ghost"
	"github.com/atinylittleshell/autotab/pkg/protocol"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	"mvdan.cc/sh/v3/interp"
)

var BUILD_VERSION = "dev"

var serveFlag = flag.Bool("serve", false, "run the completion coordinator on a unix socket")
var connectFlag = flag.Bool("connect", false, "run the playground against a running coordinator")
var settingsFlag = flag.Bool("settings", false, "open the settings form")
var rcFile = flag.String("rcfile", "", "use a custom rc file instead of ~/.autotabrc")
var strictConfig = flag.Bool("strict-config", false, "fail fast if configuration files contain errors")

var helpFlag = flag.Bool("h", false, "display help information")
var versionFlag = flag.Bool("ver", false, "display build version")

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println(BUILD_VERSION)
		return
	}

	if *helpFlag {
		fmt.Println("Usage of autotab:")
		flag.PrintDefaults()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := initializeRunner(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := initializeLogger(runner)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("-------- new autotab session --------", zap.Any("args", os.Args))

	store, err := initializeSettingsStore(runner, logger)
	if err != nil {
		logger.Error("failed to initialize settings", zap.Error(err))
		fmt.Fprintf(os.Stderr, "failed to initialize settings: %v\n", err)
		os.Exit(1)
	}

	err = run(ctx, runner, store, logger)
	if closeErr := store.Close(); closeErr != nil {
		err = multierror.Append(err, closeErr)
	}

	if err != nil {
		logger.Error("unhandled error", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, runner *interp.Runner, store *settings.Store, logger *zap.Logger) error {
	// autotab -settings
	if *settingsFlag {
		return config.Run(store)
	}

	// autotab -serve
	if *serveFlag {
		return serve(ctx, runner, store, logger)
	}

	// autotab [-connect]
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("the playground needs an interactive terminal; use -serve to run the coordinator")
	}
	return runPlayground(ctx, runner, store, logger)
}

func initializeRunner(ctx context.Context) (*interp.Runner, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	configFiles := environment.ConfigFiles(core.HomeDir(), workDir, *rcFile)
	return environment.NewRunner(ctx, BUILD_VERSION, configFiles, *strictConfig)
}

func initializeLogger(runner *interp.Runner) (*zap.Logger, error) {
	logLevel := environment.GetLogLevel(runner)
	if BUILD_VERSION == "dev" {
		logLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	if environment.ShouldCleanLogFile(runner) {
		_ = os.Remove(core.LogFile())
	}

	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = logLevel
	loggerConfig.OutputPaths = []string{
		core.LogFile(),
	}
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// initializeSettingsStore opens the settings database and seeds it on first
// run, taking the API key from the environment when none is stored.
func initializeSettingsStore(runner *interp.Runner, logger *zap.Logger) (*settings.Store, error) {
	store, err := settings.NewStore(core.SettingsFile(), logger)
	if err != nil {
		return nil, err
	}

	snapshot, err := store.Seed(environment.GetAPIKey(runner))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Debug("settings loaded", zap.Any("settings", snapshot.Redacted()))
	return store, nil
}

func initializeCoordinator(runner *interp.Runner, store *settings.Store, logger *zap.Logger) *coordinator.Coordinator {
	client := llm.NewOpenAIClient(llm.Options{
		BaseURL: environment.GetBaseURL(runner),
		Timeout: environment.GetRequestTimeout(runner, logger),
		Headers: environment.GetHeaders(runner, logger),
	}, logger)

	return coordinator.New(
		store,
		client,
		cache.New(),
		logger,
		coordinator.WithMinPromptLength(environment.GetMinPromptLength(runner, logger)),
		coordinator.WithReporter(failure.NewReporter(logger)),
	)
}

func socketPath(runner *interp.Runner) string {
	return environment.GetSocketPath(runner, core.SocketFile())
}

// serve runs the coordinator behind the socket until interrupted.
func serve(ctx context.Context, runner *interp.Runner, store *settings.Store, logger *zap.Logger) error {
	coord := initializeCoordinator(runner, store, logger)

	server, err := coordinator.NewServer(socketPath(runner), coord, logger)
	if err != nil {
		return err
	}
	logger.Info("coordinator listening", zap.String("socket", server.Addr()))
	fmt.Fprintf(os.Stderr, "autotab coordinator listening on %s\n", server.Addr())

	updates, unsubscribe := store.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return settings.Watch(gctx, store, core.SettingsFile(), logger)
	})
	g.Go(func() error {
		return server.Serve(gctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case snapshot, ok := <-updates:
				if !ok {
					return nil
				}
				logger.Info("coordinator settings changed", zap.Any("settings", snapshot.Redacted()))
			}
		}
	})

	var result error
	if err := g.Wait(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := server.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	logger.Info("coordinator stopped",
		zap.Any("failures", coord.Reporter().Counts()),
		zap.String("cache", coord.Cache().Stats().String()),
	)
	return result
}

func runPlayground(ctx context.Context, runner *interp.Runner, store *settings.Store, logger *zap.Logger) (err error) {
	snapshot, err := store.Snapshot()
	if err != nil {
		return err
	}

	analyticsManager, err := analytics.NewAnalyticsManager(core.AnalyticsFile(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := analyticsManager.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}()

	var connect playground.Connect
	var stats func() string
	if *connectFlag {
		sockPath := socketPath(runner)
		connect = func(deliver func(protocol.Response)) (playground.Transport, error) {
			conn, err := coordinator.Dial(ctx, sockPath, deliver, logger)
			if err != nil {
				return nil, fmt.Errorf("is `autotab -serve` running? %w", err)
			}
			return conn, nil
		}
	} else {
		coord := initializeCoordinator(runner, store, logger)
		connect = func(deliver func(protocol.Response)) (playground.Transport, error) {
			return coordinator.NewLocal(coord, "playground", deliver), nil
		}
		stats = func() string {
			return coord.Cache().Stats().String()
		}
	}

	session, err := playground.Start(ctx, connect,
		ghost.WithDebounce(environment.GetDebounce(runner, logger)),
		ghost.WithMinPromptLength(environment.GetMinPromptLength(runner, logger)),
		ghost.WithLogger(logger),
		ghost.WithAnalytics(analyticsManager),
		ghost.WithSettings(snapshot),
	)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}()

	updates, unsubscribe := store.Subscribe()
	defer unsubscribe()
	session.FollowSettings(updates)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := settings.Watch(watchCtx, store, core.SettingsFile(), logger); err != nil {
			logger.Warn("settings watch stopped", zap.Error(err))
		}
	}()

	err = playground.Run(session, stats)
	if err == nil {
		if rate, rateErr := analyticsManager.GetAcceptanceRate(); rateErr == nil {
			logger.Info("playground finished", zap.Float64("acceptance_rate", rate))
		}
	}
	return err
}
