package web

import (
	"context"
	"net/http"
	"strconv"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/scheduler"
)

// handleToday reports the current collection day.
func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	today, err := s.sched.Today(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"today": today})
}

// handleTree handles GET /decks/tree. Counts are included unless
// ?counts=false is given.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	root, err := s.sched.Tree(r.Context(), queryBool(r, "counts", true))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, root)
}

// handleCounts handles GET /decks/{id}/counts.
func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	counts, err := s.sched.Counts(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

type nextResponse struct {
	Card    cardView          `json:"card"`
	Buttons map[string]string `json:"buttons"`
	Counts  domain.Counts     `json:"counts"`
}

// handleNext handles GET /decks/{id}/next. It answers 204 when nothing is
// left to study.
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	card, err := s.sched.Next(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if card == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	buttons := make(map[string]string, len(domain.Ratings))
	for _, rating := range domain.Ratings {
		label, err := s.sched.NextIntervalLabel(ctx, card.ID, rating)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		buttons[rating.String()] = label
	}
	counts, err := s.sched.Counts(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nextResponse{Card: newCardView(card), Buttons: buttons, Counts: counts})
}

// handleFetch handles GET /decks/{id}/cards?limit=N&learning_only=true.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := 1
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
	}
	cards, err := s.sched.Fetch(r.Context(), id, limit, queryBool(r, "learning_only", false))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]cardView, 0, len(cards))
	for i := range cards {
		views = append(views, newCardView(&cards[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleETA handles GET /decks/{id}/eta. ?reload=true rereads the review log.
func (s *Server) handleETA(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	est, err := s.sched.ETA(r.Context(), id, queryBool(r, "reload", false))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// handleGetDeckConfig handles GET /decks/{id}/config.
func (s *Server) handleGetDeckConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.sched.DeckConfigFor(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handlePutDeckConfig handles PUT /decks/{id}/config. Fields present in the
// body overwrite the config group the deck uses.
func (s *Server) handlePutDeckConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	current, err := s.sched.DeckConfigFor(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg := *current
	if !s.decode(w, r, &cfg) {
		return
	}
	cfg.ID = current.ID
	if err := s.sched.SaveDeckConfig(ctx, &cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type unburyRequest struct {
	Scope string `json:"scope" validate:"omitempty,oneof=all user manual sched siblings"`
}

// handleUnbury handles POST /decks/{id}/unbury.
func (s *Server) handleUnbury(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req unburyRequest
	if !s.decode(w, r, &req) {
		return
	}
	scope, err := scheduler.ParseUnburyScope(req.Scope)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.sched.Unbury(r.Context(), id, scope)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Cards: n})
}

type countResponse struct {
	Cards int `json:"cards"`
}

// handleRebuild handles POST /decks/{id}/rebuild.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	s.deckAction(w, r, s.sched.RebuildFiltered)
}

// handleEmpty handles POST /decks/{id}/empty.
func (s *Server) handleEmpty(w http.ResponseWriter, r *http.Request) {
	s.deckAction(w, r, s.sched.EmptyFiltered)
}

// handleRandomize handles POST /decks/{id}/randomize, shuffling the deck's
// new cards.
func (s *Server) handleRandomize(w http.ResponseWriter, r *http.Request) {
	s.deckAction(w, r, s.sched.RandomizeDeck)
}

// handleOrder handles POST /decks/{id}/order.
func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	s.deckAction(w, r, s.sched.OrderDeck)
}

func (s *Server) deckAction(w http.ResponseWriter, r *http.Request, action func(context.Context, int64) (int, error)) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := action(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Cards: n})
}

type extendRequest struct {
	New    int `json:"new" validate:"min=-9999,max=9999"`
	Review int `json:"review" validate:"min=-9999,max=9999"`
}

// handleExtend handles POST /decks/{id}/extend, raising today's limits of
// the deck and its subdecks.
func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req extendRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	if err := s.sched.ExtendLimits(ctx, id, req.New, req.Review); err != nil {
		s.writeError(w, r, err)
		return
	}
	counts, err := s.sched.Counts(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
