package web

import (
	"context"
	"net/http"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/scheduler"
)

type cardView struct {
	ID             int64    `json:"id"`
	NoteID         int64    `json:"note_id"`
	DeckID         int64    `json:"deck_id"`
	Ordinal        int      `json:"ord"`
	Type           string   `json:"type"`
	Queue          string   `json:"queue"`
	Due            int64    `json:"due"`
	Interval       int      `json:"interval"`
	EaseFactor     int      `json:"ease_factor"`
	Reps           int      `json:"reps"`
	Lapses         int      `json:"lapses"`
	Remaining      int      `json:"remaining"`
	OriginalDeckID int64    `json:"original_deck_id,omitempty"`
	OriginalDue    int64    `json:"original_due,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

func newCardView(c *domain.Card) cardView {
	return cardView{
		ID:             c.ID,
		NoteID:         c.NoteID,
		DeckID:         c.DeckID,
		Ordinal:        c.Ordinal,
		Type:           c.Type.String(),
		Queue:          c.Queue.String(),
		Due:            c.Due,
		Interval:       c.Interval,
		EaseFactor:     c.EaseFactor,
		Reps:           c.Reps,
		Lapses:         c.Lapses,
		Remaining:      c.Remaining,
		OriginalDeckID: c.OriginalDeckID,
		OriginalDue:    c.OriginalDue,
		Tags:           c.Tags,
	}
}

// handleGetCard handles GET /cards/{id}.
func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	card, err := s.sched.Card(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCardView(card))
}

type answerRequest struct {
	Rating      domain.Rating `json:"rating"`
	TakenMillis int           `json:"taken_ms" validate:"min=0"`
	DeckID      int64         `json:"deck_id" validate:"min=0"`
}

type answerResponse struct {
	Card     cardView `json:"card"`
	Kind     string   `json:"kind"`
	Interval string   `json:"interval"`
	Leech    bool     `json:"leech"`
	Buried   []int64  `json:"buried,omitempty"`
}

// handleAnswer handles POST /cards/{id}/answer.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req answerRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.sched.Answer(r.Context(), scheduler.Answer{
		CardID:      id,
		Rating:      req.Rating,
		TakenMillis: req.TakenMillis,
		DeckID:      req.DeckID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{
		Card:     newCardView(&res.Card),
		Kind:     res.Log.Kind.String(),
		Interval: res.Log.Interval.Duration().String(),
		Leech:    res.Leech,
		Buried:   res.Buried,
	})
}

type idsRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

type buryRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
	// Sibling buries as if a sibling had been answered, so only a sibling
	// unbury restores the cards.
	Sibling bool `json:"sibling"`
}

// handleBury handles POST /cards/bury.
func (s *Server) handleBury(w http.ResponseWriter, r *http.Request) {
	var req buryRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.sched.Bury(r.Context(), req.IDs, !req.Sibling)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Cards: n})
}

// handleSuspend handles POST /cards/suspend.
func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.sched.Suspend(r.Context(), req.IDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Cards: n})
}

// handleUnsuspend handles POST /cards/unsuspend.
func (s *Server) handleUnsuspend(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.sched.Unsuspend(r.Context(), req.IDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Cards: n})
}

type forgetRequest struct {
	IDs             []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
	RestorePosition bool    `json:"restore_position"`
	ResetCounts     bool    `json:"reset_counts"`
}

// handleForget handles POST /cards/forget.
func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	var req forgetRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.sched.Forget(r.Context(), req.IDs, req.RestorePosition, req.ResetCounts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Cards: n})
}

type setDueRequest struct {
	IDs  []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
	Days string  `json:"days" validate:"required"`
	// ConfigKey, when set, remembers Days for the next prompt.
	ConfigKey string `json:"config_key"`
}

// handleSetDue handles POST /cards/set-due with a day range such as "0",
// "3-7" or "5!".
func (s *Server) handleSetDue(w http.ResponseWriter, r *http.Request) {
	var req setDueRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.sched.SetDueDate(r.Context(), req.IDs, req.Days, req.ConfigKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Cards: n})
}

type rescheduleRequest struct {
	IDs     []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
	MinDays int     `json:"min_days" validate:"min=0"`
	MaxDays int     `json:"max_days" validate:"gtefield=MinDays"`
}

// handleReschedule handles POST /cards/reschedule.
func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.sched.Reschedule(r.Context(), req.IDs, req.MinDays, req.MaxDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Cards: n})
}

type repositionRequest struct {
	IDs       []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
	Start     int     `json:"start" validate:"min=0"`
	Step      int     `json:"step" validate:"min=1"`
	Randomize bool    `json:"randomize"`
	Shift     bool    `json:"shift"`
}

// handleReposition handles POST /cards/reposition. Start and step default
// to 1.
func (s *Server) handleReposition(w http.ResponseWriter, r *http.Request) {
	req := repositionRequest{Start: 1, Step: 1}
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.sched.Reposition(r.Context(), req.IDs, req.Start, req.Step, req.Randomize, req.Shift)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Cards: n})
}

type notesRequest struct {
	NoteIDs []int64 `json:"note_ids" validate:"required,min=1,dive,gt=0"`
}

// handleBuryNotes handles POST /notes/bury.
func (s *Server) handleBuryNotes(w http.ResponseWriter, r *http.Request) {
	s.notesAction(w, r, s.sched.BuryNotes)
}

// handleSuspendNotes handles POST /notes/suspend.
func (s *Server) handleSuspendNotes(w http.ResponseWriter, r *http.Request) {
	s.notesAction(w, r, s.sched.SuspendNotes)
}

func (s *Server) notesAction(w http.ResponseWriter, r *http.Request, action func(context.Context, []int64) (int, error)) {
	var req notesRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := action(r.Context(), req.NoteIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Cards: n})
}

type upgradeRequest struct {
	Confirmed bool `json:"confirmed"`
}

// handleUpgrade handles POST /collection/upgrade. Without confirmation it
// answers 428, since the upgrade forces a full sync.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	var req upgradeRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.sched.UpgradeScheduler(r.Context(), req.Confirmed)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Cards: n})
}
