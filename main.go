package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"git.unix.lgbt/diamondburned/mcmon/mcmon"
	"git.unix.lgbt/diamondburned/mcmon/mcmon/journal"
	"git.unix.lgbt/diamondburned/mcmon/mcmon/properties"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

var (
	journalFile   string
	jarPath       string
	javaPath      string
	jvmArgs       []string
	whitelist     []string
	restartCode   string
	autostart     bool
	resume        bool
	statsInterval time.Duration
	waitTimeout   time.Duration
	verbose       bool
)

func init() {
	configDir, err := os.UserConfigDir()
	if err == nil {
		journalFile = filepath.Join(configDir, "mcmon", "journal.json")
	}

	pflag.StringVarP(&journalFile, "journal", "j", journalFile, "journal file path")
	pflag.StringVarP(&jarPath, "server", "s", os.Getenv("MINECRAFT_SERVER_PATH"),
		"server jar path, defaults to $MINECRAFT_SERVER_PATH")
	pflag.StringVar(&javaPath, "java", "java", "java executable")
	pflag.StringArrayVar(&jvmArgs, "jvm-arg", nil, "extra argument for java, may be repeated")
	pflag.StringSliceVarP(&whitelist, "whitelist", "w", splitList(os.Getenv("USERS_WITH_PERMISSION")),
		"users allowed to restart the server in-game, defaults to $USERS_WITH_PERMISSION")
	pflag.StringVar(&restartCode, "restart-code", "server_restart", "chat code that restarts the server")
	pflag.BoolVar(&autostart, "start", false, "start the server immediately")
	pflag.BoolVar(&resume, "resume", true, "start the server if it was running when mcmon last exited")
	pflag.DurationVar(&statsInterval, "stats-interval", mcmon.DefaultStatsInterval, "resource usage sampling interval")
	pflag.DurationVar(&waitTimeout, "wait-timeout", mcmon.ProcessWaitTimeout,
		"time to wait for the server to exit on restart before killing it")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "echo the server's output and log stats samples")

	pflag.Usage = func() {
		f := func(f string, v ...interface{}) {
			fmt.Fprintf(os.Stderr, f, v...)
		}

		f("Usage:\n")
		f("  %s -j <journal> -s <server.jar> [flags]\n", filepath.Base(os.Args[0]))
		f("\n")
		f("Flags:\n")
		pflag.PrintDefaults()
	}
}

func splitList(list string) []string {
	var items []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func main() {
	pflag.Parse()

	logger, err := newLogger(verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if journalFile == "" {
		logger.Fatal("missing -j path to journal file")
	}
	if jarPath == "" {
		logger.Fatal("missing -s path to server jar")
	}
	if pflag.NArg() > 0 {
		logger.Fatal("unexpected argument", zap.String("arg", pflag.Arg(0)))
	}

	if err := start(logger); err != nil {
		logger.Fatal("mcmon failed", zap.Error(err))
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if verbose {
		cfg.Level.SetLevel(zap.DebugLevel)
	}

	return cfg.Build()
}

func start(logger *zap.Logger) error {
	j, err := journal.NewFileLockJournaler(journalFile)
	if err != nil {
		if errors.Is(err, journal.ErrLockedElsewhere) {
			// Non-fatal error.
			logger.Info("mcmon is already running", zap.String("journal", journalFile))
			return nil
		}

		return errors.Wrap(err, "failed to acquire journal lock")
	}
	defer j.Close()

	// This must happen before anything new is journaled.
	prev, err := mcmon.ReadPreviousState(j)
	if err != nil {
		logger.Warn("failed to read previous state, not resuming", zap.Error(err))
		prev = &mcmon.PreviousState{}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	props, err := properties.Open(filepath.Join(filepath.Dir(jarPath), properties.FileName))
	if err != nil {
		return errors.Wrap(err, "failed to load server properties")
	}

	cfg := mcmon.Config{
		Java:       javaPath,
		JVMArgs:    jvmArgs,
		JarPath:    jarPath,
		Properties: props,
	}

	if verbose {
		serverLog := logger.Named("server")

		stdout := &zapio.Writer{Log: serverLog, Level: zap.InfoLevel}
		defer stdout.Close()
		stderr := &zapio.Writer{Log: serverLog, Level: zap.WarnLevel}
		defer stderr.Close()

		cfg.EchoStdout = stdout
		cfg.EchoStderr = stderr
	}

	sv := mcmon.NewSupervisor(cfg)
	sv.StatsInterval = statsInterval
	sv.WaitTimeout = waitTimeout
	defer sv.Kill()

	// Beware: changing the combination of these writers will break existing
	// journals. Stats samples are too frequent to be kept on disk.
	journaler := journal.MultiWriter(
		journal.Without(j, mcmon.TypeStatsSample),
		journal.NewHumanWriter(logger.Named("events")),
	)

	sv.Bus().OnAny(mcmon.Journal(journaler, func(err error) {
		logger.Warn("failed to write journal", zap.Error(err))
	}))

	if w, err := properties.Watch(ctx, props); err != nil {
		sv.Bus().Emit(&mcmon.EventWarning{Component: "properties", Error: err.Error()})
	} else {
		go reportReloads(ctx, sv.Bus(), w)
	}

	policy := newRestartPolicy(sv, whitelist)
	sv.OnMessageWithCode(restartCode, policy.handle)

	if prev.Running {
		logger.Info("server was running when mcmon last exited",
			zap.Int("pid", prev.PID),
			zap.Time("since", prev.Time))
	}

	if autostart || (resume && prev.Running) {
		sv.Run()
	}

	c := newConsole(sv, os.Stdout)
	go func() {
		if err := c.run(ctx, os.Stdin); err != nil {
			logger.Warn("console stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	return nil
}

func reportReloads(ctx context.Context, bus *mcmon.Bus, w *properties.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-w.Reloaded:
			if err != nil {
				bus.Emit(&mcmon.EventWarning{Component: "properties", Error: err.Error()})
			}
		}
	}
}
