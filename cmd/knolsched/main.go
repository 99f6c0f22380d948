package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/conorfennell/knolsched/internal/config"
	"github.com/conorfennell/knolsched/internal/scheduler"
	"github.com/conorfennell/knolsched/internal/storage"
	"github.com/spf13/pflag"
)

// app is what every command gets to work with.
type app struct {
	cfg   *config.Config
	db    *storage.DB
	sched *scheduler.Scheduler
	log   *slog.Logger
	out   io.Writer
}

type cmdHandler func(ctx context.Context, a *app, args []string) error

var handlers = map[string]cmdHandler{
	"serve":             cmdServe,
	"counts":            cmdCounts,
	"next":              cmdNext,
	"answer":            cmdAnswer,
	"tree":              cmdTree,
	"eta":               cmdETA,
	"bury":              cmdBury,
	"unbury":            cmdUnbury,
	"suspend":           cmdSuspend,
	"unsuspend":         cmdUnsuspend,
	"forget":            cmdForget,
	"reschedule":        cmdReschedule,
	"set-due":           cmdSetDue,
	"reposition":        cmdReposition,
	"sort-deck":         cmdSortDeck,
	"rebuild":           cmdRebuild,
	"empty":             cmdEmpty,
	"extend":            cmdExtend,
	"deck-config":       cmdDeckConfig,
	"add-deck":          cmdAddDeck,
	"add-filtered-deck": cmdAddFilteredDeck,
	"add-card":          cmdAddCard,
	"import":            cmdImport,
	"upgrade":           cmdUpgrade,
}

// errUsage marks bad invocations; they exit with status 2.
var errUsage = errors.New("usage")

func usage(fs *pflag.FlagSet) {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(os.Stderr, "usage: knolsched [flags] <command> [args...]")
	fmt.Fprintln(os.Stderr, "\ncommands:")
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %s\n", name)
	}
	fmt.Fprintln(os.Stderr, "\nflags:")
	fs.PrintDefaults()
}

func main() {
	// 1. Parse global flags up to the command name
	fs := config.NewFlagSet("knolsched")
	fs.SetInterspersed(false)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			usage(fs)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if fs.NArg() < 1 {
		usage(fs)
		os.Exit(2)
	}
	cmd, args := fs.Arg(0), fs.Args()[1:]
	handler, ok := handlers[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage(fs)
		os.Exit(2)
	}

	// 2. Load configuration from file, environment and flags
	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// 3. Set up structured logging
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Open the collection, creating it on first use
	db, err := storage.Open(cfg.DB)
	if err != nil {
		slog.Error("Failed to open database", "path", cfg.DB, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Bootstrap(ctx, time.Now(), cfg.Defaults); err != nil {
		slog.Error("Failed to initialize collection", "path", cfg.DB, "error", err)
		os.Exit(1)
	}

	// 5. Build the scheduler
	opts, err := schedulerOptions(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	a := &app{cfg: cfg, db: db, sched: scheduler.New(db, opts), log: logger, out: os.Stdout}

	// 6. Restore buried cards if a new day started since the last run
	if _, err := a.sched.UnburyOnRollover(ctx); err != nil {
		slog.Warn("Failed to unbury on rollover", "error", err)
	}

	// 7. Run the command
	if err := handler(ctx, a, args); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", cmd, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func schedulerOptions(cfg *config.Config, logger *slog.Logger) (scheduler.Options, error) {
	loc, err := cfg.Location()
	if err != nil {
		return scheduler.Options{}, err
	}
	mix, err := cfg.Mix()
	if err != nil {
		return scheduler.Options{}, err
	}
	opts := scheduler.DefaultOptions()
	opts.Logger = logger
	opts.Location = loc
	opts.RolloverHour = cfg.Rollover
	opts.LearnAheadSecs = cfg.LearnAheadSecs
	opts.Fuzz = cfg.Fuzz
	opts.Mix = mix
	opts.DefaultConfig = cfg.Defaults
	return opts, nil
}
