package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/importer"
	"github.com/conorfennell/knolsched/internal/scheduler"
	"github.com/conorfennell/knolsched/internal/web"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errUsage)
}

// parseFlags parses the flags of one command. setup declares them.
func parseFlags(name string, args []string, setup func(fs *pflag.FlagSet)) (*pflag.FlagSet, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if setup != nil {
		setup(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, usageErr("%v", err)
	}
	return fs, nil
}

// resolveDeck accepts a deck ID or a full deck name.
func (a *app) resolveDeck(ctx context.Context, arg string) (int64, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return id, nil
	}
	d, err := a.db.DeckByName(ctx, arg)
	if err != nil {
		return 0, err
	}
	if d == nil {
		return 0, fmt.Errorf("deck %q: %w", arg, domain.ErrNotFound)
	}
	return d.ID, nil
}

// parseIDs reads positive card or note IDs; what names them in errors.
func parseIDs(what string, args []string) ([]int64, error) {
	if len(args) == 0 {
		return nil, usageErr("at least one %s id is required", what)
	}
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, usageErr("invalid %s id %q", what, arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func cmdServe(ctx context.Context, a *app, args []string) error {
	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           web.NewServer(a.sched, a.log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go a.rolloverLoop(ctx, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("Starting web server", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// rolloverLoop restores buried cards whenever a new day starts.
func (a *app) rolloverLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := a.sched.UnburyOnRollover(ctx); err != nil && !errors.Is(err, domain.ErrConcurrentMutation) {
			a.log.Warn("Failed to unbury on rollover", "error", err)
		}
	}
}

func cmdCounts(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return usageErr("counts <deck>")
	}
	deckID, err := a.resolveDeck(ctx, args[0])
	if err != nil {
		return err
	}
	counts, err := a.sched.Counts(ctx, deckID)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, renderCounts(counts))
	return nil
}

func cmdNext(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return usageErr("next <deck>")
	}
	deckID, err := a.resolveDeck(ctx, args[0])
	if err != nil {
		return err
	}
	card, err := a.sched.Next(ctx, deckID)
	if err != nil {
		return err
	}
	if card == nil {
		fmt.Fprintln(a.out, dimStyle.Render("Nothing left to study today."))
		return nil
	}
	labels := make(map[domain.Rating]string, len(domain.Ratings))
	for _, r := range domain.Ratings {
		if labels[r], err = a.sched.NextIntervalLabel(ctx, card.ID, r); err != nil {
			return err
		}
	}
	fmt.Fprintln(a.out, renderCard(card))
	fmt.Fprintln(a.out, renderButtons(labels))
	return nil
}

func cmdAnswer(ctx context.Context, a *app, args []string) error {
	var takenMillis int
	var deck string
	fs, err := parseFlags("answer", args, func(fs *pflag.FlagSet) {
		fs.IntVar(&takenMillis, "taken-ms", 0, "Milliseconds spent on the card")
		fs.StringVar(&deck, "deck", "", "Deck being studied, when it is not the card's own")
	})
	if err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return usageErr("answer <card-id> <again|hard|good|easy> [--taken-ms N] [--deck D]")
	}
	ids, err := parseIDs("card", fs.Args()[:1])
	if err != nil {
		return err
	}
	rating, err := domain.ParseRating(fs.Arg(1))
	if err != nil {
		return err
	}
	ans := scheduler.Answer{CardID: ids[0], Rating: rating, TakenMillis: takenMillis}
	if deck != "" {
		if ans.DeckID, err = a.resolveDeck(ctx, deck); err != nil {
			return err
		}
	}
	res, err := a.sched.Answer(ctx, ans)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, renderCard(&res.Card))
	fmt.Fprintf(a.out, "next in %s (%s)\n", res.Log.Interval.Duration(), res.Log.Kind)
	if res.Leech {
		fmt.Fprintln(a.out, warnStyle.Render("card is a leech"))
	}
	if len(res.Buried) > 0 {
		fmt.Fprintf(a.out, "buried %d sibling(s)\n", len(res.Buried))
	}
	return nil
}

func cmdTree(ctx context.Context, a *app, args []string) error {
	var noCounts bool
	if _, err := parseFlags("tree", args, func(fs *pflag.FlagSet) {
		fs.BoolVar(&noCounts, "no-counts", false, "Skip due counts")
	}); err != nil {
		return err
	}
	root, err := a.sched.Tree(ctx, !noCounts)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, renderTree(root, !noCounts))
	return nil
}

func cmdETA(ctx context.Context, a *app, args []string) error {
	var reload bool
	fs, err := parseFlags("eta", args, func(fs *pflag.FlagSet) {
		fs.BoolVar(&reload, "reload", false, "Reread the review log")
	})
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErr("eta <deck> [--reload]")
	}
	deckID, err := a.resolveDeck(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	est, err := a.sched.ETA(ctx, deckID, reload)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, renderCounts(est.Counts))
	if !est.HasHistory {
		fmt.Fprintln(a.out, dimStyle.Render("not enough review history to estimate"))
		return nil
	}
	fmt.Fprintf(a.out, "about %d minute(s) left\n", est.Minutes)
	return nil
}

func cmdBury(ctx context.Context, a *app, args []string) error {
	var sibling, notes bool
	fs, err := parseFlags("bury", args, func(fs *pflag.FlagSet) {
		fs.BoolVar(&sibling, "sibling", false, "Bury as if a sibling had been answered")
		fs.BoolVar(&notes, "notes", false, "Arguments are note IDs; bury every card of each note")
	})
	if err != nil {
		return err
	}
	if notes && sibling {
		return usageErr("--notes and --sibling cannot be combined")
	}
	var n int
	if notes {
		ids, err := parseIDs("note", fs.Args())
		if err != nil {
			return err
		}
		n, err = a.sched.BuryNotes(ctx, ids)
		if err != nil {
			return err
		}
	} else {
		ids, err := parseIDs("card", fs.Args())
		if err != nil {
			return err
		}
		n, err = a.sched.Bury(ctx, ids, !sibling)
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(a.out, "buried %d card(s)\n", n)
	return nil
}

func cmdUnbury(ctx context.Context, a *app, args []string) error {
	var scopeName string
	fs, err := parseFlags("unbury", args, func(fs *pflag.FlagSet) {
		fs.StringVar(&scopeName, "scope", "all", "all, user or sched")
	})
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErr("unbury <deck> [--scope all|user|sched]")
	}
	scope, err := scheduler.ParseUnburyScope(scopeName)
	if err != nil {
		return usageErr("%v", err)
	}
	deckID, err := a.resolveDeck(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	n, err := a.sched.Unbury(ctx, deckID, scope)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "unburied %d card(s)\n", n)
	return nil
}

func cmdSuspend(ctx context.Context, a *app, args []string) error {
	var notes bool
	fs, err := parseFlags("suspend", args, func(fs *pflag.FlagSet) {
		fs.BoolVar(&notes, "notes", false, "Arguments are note IDs; suspend every card of each note")
	})
	if err != nil {
		return err
	}
	what, action := "card", a.sched.Suspend
	if notes {
		what, action = "note", a.sched.SuspendNotes
	}
	ids, err := parseIDs(what, fs.Args())
	if err != nil {
		return err
	}
	n, err := action(ctx, ids)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "suspended %d card(s)\n", n)
	return nil
}

func cmdUnsuspend(ctx context.Context, a *app, args []string) error {
	ids, err := parseIDs("card", args)
	if err != nil {
		return err
	}
	n, err := a.sched.Unsuspend(ctx, ids)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "unsuspended %d card(s)\n", n)
	return nil
}

func cmdForget(ctx context.Context, a *app, args []string) error {
	var restorePosition, resetCounts bool
	fs, err := parseFlags("forget", args, func(fs *pflag.FlagSet) {
		fs.BoolVar(&restorePosition, "restore-position", false, "Put cards back where they were in the new queue")
		fs.BoolVar(&resetCounts, "reset-counts", false, "Zero the review and lapse counts")
	})
	if err != nil {
		return err
	}
	ids, err := parseIDs("card", fs.Args())
	if err != nil {
		return err
	}
	n, err := a.sched.Forget(ctx, ids, restorePosition, resetCounts)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "reset %d card(s) to new\n", n)
	return nil
}

func cmdReschedule(ctx context.Context, a *app, args []string) error {
	if len(args) < 3 {
		return usageErr("reschedule <min-days> <max-days> <card-id>...")
	}
	minDays, err1 := strconv.Atoi(args[0])
	maxDays, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return usageErr("day bounds must be integers")
	}
	ids, err := parseIDs("card", args[2:])
	if err != nil {
		return err
	}
	n, err := a.sched.Reschedule(ctx, ids, minDays, maxDays)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "rescheduled %d card(s)\n", n)
	return nil
}

func cmdSetDue(ctx context.Context, a *app, args []string) error {
	var configKey string
	fs, err := parseFlags("set-due", args, func(fs *pflag.FlagSet) {
		fs.StringVar(&configKey, "config-key", "", "Remember the day range under this config key")
	})
	if err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return usageErr("set-due <days> <card-id>... (days: N, N-M, append ! to reset the interval)")
	}
	ids, err := parseIDs("card", fs.Args()[1:])
	if err != nil {
		return err
	}
	n, err := a.sched.SetDueDate(ctx, ids, fs.Arg(0), configKey)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "set due date of %d card(s)\n", n)
	return nil
}

func cmdReposition(ctx context.Context, a *app, args []string) error {
	var start, step int
	var randomize, shift bool
	fs, err := parseFlags("reposition", args, func(fs *pflag.FlagSet) {
		fs.IntVar(&start, "start", 1, "First new-queue position")
		fs.IntVar(&step, "step", 1, "Distance between positions")
		fs.BoolVar(&randomize, "randomize", false, "Shuffle the cards first")
		fs.BoolVar(&shift, "shift", false, "Move other new cards back to make room")
	})
	if err != nil {
		return err
	}
	if start < 0 || step < 1 {
		return usageErr("--start must be 0 or more and --step 1 or more")
	}
	ids, err := parseIDs("card", fs.Args())
	if err != nil {
		return err
	}
	n, err := a.sched.Reposition(ctx, ids, start, step, randomize, shift)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "repositioned %d card(s)\n", n)
	return nil
}

func cmdSortDeck(ctx context.Context, a *app, args []string) error {
	var random bool
	fs, err := parseFlags("sort-deck", args, func(fs *pflag.FlagSet) {
		fs.BoolVar(&random, "random", false, "Shuffle instead of restoring the order cards were added")
	})
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErr("sort-deck <deck> [--random]")
	}
	deckID, err := a.resolveDeck(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	action := a.sched.OrderDeck
	if random {
		action = a.sched.RandomizeDeck
	}
	n, err := action(ctx, deckID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "repositioned %d new card(s)\n", n)
	return nil
}

func cmdRebuild(ctx context.Context, a *app, args []string) error {
	return filteredCommand(ctx, a, args, "rebuild", a.sched.RebuildFiltered, "gathered %d card(s)\n")
}

func cmdEmpty(ctx context.Context, a *app, args []string) error {
	return filteredCommand(ctx, a, args, "empty", a.sched.EmptyFiltered, "returned %d card(s) home\n")
}

func filteredCommand(ctx context.Context, a *app, args []string, name string, action func(context.Context, int64) (int, error), format string) error {
	if len(args) != 1 {
		return usageErr("%s <filtered-deck>", name)
	}
	deckID, err := a.resolveDeck(ctx, args[0])
	if err != nil {
		return err
	}
	n, err := action(ctx, deckID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, format, n)
	return nil
}

func cmdExtend(ctx context.Context, a *app, args []string) error {
	var newDelta, reviewDelta int
	fs, err := parseFlags("extend", args, func(fs *pflag.FlagSet) {
		fs.IntVar(&newDelta, "new", 0, "Extra new cards for today")
		fs.IntVar(&reviewDelta, "review", 0, "Extra reviews for today")
	})
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErr("extend <deck> [--new N] [--review N]")
	}
	deckID, err := a.resolveDeck(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if err := a.sched.ExtendLimits(ctx, deckID, newDelta, reviewDelta); err != nil {
		return err
	}
	counts, err := a.sched.Counts(ctx, deckID)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, renderCounts(counts))
	return nil
}

func cmdDeckConfig(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 {
		return usageErr("deck-config get <deck> | deck-config set <deck> <file|->")
	}
	deckID, err := a.resolveDeck(ctx, args[1])
	if err != nil {
		return err
	}
	cfg, err := a.sched.DeckConfigFor(ctx, deckID)
	if err != nil {
		return err
	}

	switch args[0] {
	case "get":
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	case "set":
		if len(args) != 3 {
			return usageErr("deck-config set <deck> <file|->")
		}
		var data []byte
		if args[2] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(args[2])
		}
		if err != nil {
			return fmt.Errorf("failed to read deck config: %w", err)
		}
		id := cfg.ID
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse deck config: %w", err)
		}
		cfg.ID = id
		if err := a.sched.SaveDeckConfig(ctx, cfg); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "saved config %q (%d)\n", cfg.Name, cfg.ID)
		return nil
	}
	return usageErr("unknown deck-config action %q", args[0])
}

func cmdAddDeck(ctx context.Context, a *app, args []string) error {
	var configID int64
	fs, err := parseFlags("add-deck", args, func(fs *pflag.FlagSet) {
		fs.Int64Var(&configID, "config", domain.DefaultDeckID, "Config group of the new deck")
	})
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErr("add-deck <name> [--config ID]")
	}
	id, err := a.db.AddDeck(ctx, fs.Arg(0), configID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deck %d\n", id)
	return nil
}

func cmdAddFilteredDeck(ctx context.Context, a *app, args []string) error {
	fc := domain.DefaultFilteredConfig()
	var order string
	var preview bool
	fs, err := parseFlags("add-filtered-deck", args, func(fs *pflag.FlagSet) {
		fs.IntVar(&fc.Limit, "limit", fc.Limit, "Most cards to gather")
		fs.StringVar(&order, "order", string(fc.Order), "Gathering order")
		fs.BoolVar(&preview, "preview", false, "Answers leave the cards' schedule alone")
	})
	if err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return usageErr("add-filtered-deck <name> <search> [--limit N] [--order O] [--preview]")
	}
	fc.Search = fs.Arg(1)
	fc.Order = domain.FilteredOrder(order)
	fc.Reschedule = !preview
	if err := validator.New().Struct(fc); err != nil {
		return usageErr("invalid filtered deck: %v", err)
	}

	id, err := a.db.AddFilteredDeck(ctx, fs.Arg(0), fc)
	if err != nil {
		return err
	}
	n, err := a.sched.RebuildFiltered(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deck %d gathered %d card(s)\n", id, n)
	return nil
}

func cmdAddCard(ctx context.Context, a *app, args []string) error {
	var count int
	var siblings bool
	fs, err := parseFlags("add-card", args, func(fs *pflag.FlagSet) {
		fs.IntVar(&count, "count", 1, "Number of notes to add")
		fs.BoolVar(&siblings, "siblings", false, "Add two sibling cards per note")
	})
	if err != nil {
		return err
	}
	if fs.NArg() != 1 || count < 1 {
		return usageErr("add-card <deck> [--count N] [--siblings]")
	}
	deckID, err := a.resolveDeck(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	for range count {
		c := domain.Card{DeckID: deckID, Type: domain.TypeNew, Queue: domain.QueueNew}
		if err := a.db.AddCard(ctx, &c); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "card %d (note %d)\n", c.ID, c.NoteID)
		if siblings {
			sib := domain.Card{NoteID: c.NoteID, DeckID: deckID, Ordinal: 1, Type: domain.TypeNew, Queue: domain.QueueNew}
			if err := a.db.AddCard(ctx, &sib); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "card %d (note %d)\n", sib.ID, sib.NoteID)
		}
	}
	return nil
}

func cmdImport(ctx context.Context, a *app, args []string) error {
	opts := importer.Options{Logger: a.log}
	fs, err := parseFlags("import", args, func(fs *pflag.FlagSet) {
		fs.BoolVar(&opts.Reverse, "reverse", false, "Add a reverse sibling for every note")
		fs.StringVar(&opts.ReposDir, "repos", "repos", "Where git sources are checked out")
	})
	if err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return usageErr("import <deck> <file|dir|git-url> [--reverse] [--repos DIR]")
	}
	if opts.DeckID, err = a.resolveDeck(ctx, fs.Arg(0)); err != nil {
		return err
	}
	res, err := importer.Run(ctx, a.db, fs.Arg(1), opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d file(s), %d note(s): %d card(s) added, %d note(s) already present\n",
		res.Files, res.Notes, res.Added, res.Skipped)
	for _, e := range res.Errors {
		fmt.Fprintln(a.out, warnStyle.Render(e.Error()))
	}
	return nil
}

func cmdUpgrade(ctx context.Context, a *app, args []string) error {
	var yes bool
	if _, err := parseFlags("upgrade", args, func(fs *pflag.FlagSet) {
		fs.BoolVar(&yes, "yes", false, "Confirm the schema change; the next sync will be a full sync")
	}); err != nil {
		return err
	}
	n, err := a.sched.UpgradeScheduler(ctx, yes)
	if errors.Is(err, domain.ErrSchemaChangeRequired) {
		return fmt.Errorf("%w; rerun with --yes to confirm", err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "scheduler is at v%d, %d card(s) converted\n", scheduler.CurrentSchedulerVersion, n)
	return nil
}
