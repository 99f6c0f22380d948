// Package parser reads notes from markdown files. A note starts with a
// "Q:" line and may carry "A:", "C:" (context) and "T:" (space separated
// tags) blocks. Blocks run until the next prefix, a "---" separator or the
// next question.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// Note is one question and answer pair read from a file.
type Note struct {
	Question string
	Answer   string
	Context  string
	Tags     []string
	// Line is where the question starts, counting from 1.
	Line int
}

type field int

const (
	none field = iota
	question
	answer
	context
	tags
)

var prefixes = []struct {
	prefix string
	field  field
}{
	{"Q:", question},
	{"A:", answer},
	{"C:", context},
	{"T:", tags},
}

// ParseFile reads the notes of the file at path.
func ParseFile(path string) ([]Note, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

type noteBuilder struct {
	notes   []Note
	current Note
	field   field
	block   []string
}

// flush stores the open block into its field.
func (b *noteBuilder) flush() {
	if b.field == none || len(b.block) == 0 {
		b.block = nil
		return
	}
	content := strings.TrimRight(strings.Join(b.block, "\n"), "\n")
	switch b.field {
	case question:
		b.current.Question = content
	case answer:
		b.current.Answer = content
	case context:
		b.current.Context = content
	case tags:
		b.current.Tags = append(b.current.Tags, strings.Fields(content)...)
	}
	b.block = nil
}

// finish closes the current note. Notes without a question are dropped.
func (b *noteBuilder) finish() {
	b.flush()
	if b.current.Question != "" {
		b.notes = append(b.notes, b.current)
	}
	b.current = Note{}
	b.field = none
}

// Parse reads every note from r.
func Parse(r io.Reader) ([]Note, error) {
	scanner := bufio.NewScanner(r)
	var b noteBuilder
	lineNo := 0

	for scanner.Scan() {
		line := scanner.Text()
		lineNo++

		if strings.TrimSpace(line) == "---" {
			b.finish()
			continue
		}

		f, rest, ok := cutPrefix(line)
		if !ok {
			if b.field != none {
				b.block = append(b.block, line)
			}
			continue
		}

		// A new question always starts a new note.
		if f == question {
			b.finish()
			b.current.Line = lineNo
		} else {
			b.flush()
		}
		b.field = f
		b.block = append(b.block, rest)
	}
	b.finish()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return b.notes, nil
}

func cutPrefix(line string) (field, string, bool) {
	for _, p := range prefixes {
		if rest, ok := strings.CutPrefix(line, p.prefix); ok {
			return p.field, strings.TrimPrefix(rest, " "), true
		}
	}
	return none, "", false
}
