// Package importer adds cards for the notes found in markdown files. A
// source is a local file, a directory walked for *.md files, or a git URL
// that is cloned or pulled first. Notes that were imported before are
// recognized by their note ID and skipped.
package importer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/gitsource"
	"github.com/conorfennell/knolsched/internal/knol"
	"github.com/conorfennell/knolsched/internal/parser"
	"github.com/microcosm-cc/bluemonday"
)

var tagPolicy = bluemonday.StrictPolicy()

// CardAdder is the storage the importer writes to.
type CardAdder interface {
	CountCards(ctx context.Context, filter domain.CardFilter) (int, error)
	AddCard(ctx context.Context, card *domain.Card) error
}

// Options controls an import.
type Options struct {
	DeckID int64
	// Reverse adds a second card per note, making the two siblings.
	Reverse bool
	// ReposDir holds checkouts of git sources.
	ReposDir string
	Logger   *slog.Logger
}

// Result summarizes an import.
type Result struct {
	Files   int
	Notes   int
	Added   int
	Skipped int
	Errors  []error
}

// Run imports every note under source into opts.DeckID. Per-file problems
// are collected in Result.Errors; only failures that stop the whole import
// are returned as an error.
func Run(ctx context.Context, db CardAdder, source string, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.DeckID == 0 {
		opts.DeckID = domain.DefaultDeckID
	}
	if opts.ReposDir == "" {
		opts.ReposDir = "repos"
	}

	path := source
	if gitsource.IsRemote(source) {
		local, err := gitsource.LocalPath(opts.ReposDir, source)
		if err != nil {
			return nil, err
		}
		if err := gitsource.Sync(ctx, source, local); err != nil {
			return nil, err
		}
		path = local
	}

	log.Info("Starting import", "source", source, "deck_id", opts.DeckID)
	res := &Result{}
	walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		res.Files++
		notes, err := parser.ParseFile(p)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("parsing %s: %w", p, err))
			return nil
		}
		for _, n := range notes {
			res.Notes++
			added, err := importNote(ctx, db, n, opts)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Errorf("%s:%d: %w", p, n.Line, err))
				continue
			}
			if added == 0 {
				res.Skipped++
				continue
			}
			res.Added += added
			log.Debug("Imported note", "file", p, "line", n.Line, "hash", knol.Hash(n))
		}
		return nil
	})
	if walkErr != nil {
		return res, fmt.Errorf("failed to walk %s: %w", path, walkErr)
	}

	log.Info("Import complete",
		"source", source,
		"files", res.Files,
		"notes", res.Notes,
		"added", res.Added,
		"skipped", res.Skipped,
		"errors", len(res.Errors),
	)
	return res, nil
}

// importNote adds the cards of n and returns how many it added. A note
// whose ID already has cards adds nothing.
func importNote(ctx context.Context, db CardAdder, n parser.Note, opts Options) (int, error) {
	noteID := knol.NoteID(n)
	existing, err := db.CountCards(ctx, domain.CardFilter{NoteIDs: []int64{noteID}})
	if err != nil {
		return 0, err
	}
	if existing > 0 {
		return 0, nil
	}

	tags := cleanTags(n.Tags)
	ordinals := []int{0}
	if opts.Reverse {
		ordinals = append(ordinals, 1)
	}
	for _, ord := range ordinals {
		card := domain.Card{
			NoteID:  noteID,
			DeckID:  opts.DeckID,
			Ordinal: ord,
			Type:    domain.TypeNew,
			Queue:   domain.QueueNew,
			Tags:    tags,
		}
		if err := db.AddCard(ctx, &card); err != nil {
			return 0, err
		}
	}
	return len(ordinals), nil
}

// cleanTags strips markup from tags and drops the ones left empty.
func cleanTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(tagPolicy.Sanitize(t))
		if t != "" && !strings.ContainsAny(t, " \t") {
			out = append(out, t)
		}
	}
	return out
}
