package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/confidant/internal/chat"
	"github.com/ent0n29/confidant/internal/transcript"
)

func (s *Server) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	infos := s.transcripts.Recent(r.Context(), limit)
	if infos == nil {
		infos = []transcript.RecordInfo{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"transcripts": infos})
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	turns, err := s.transcripts.Get(r.Context(), key)
	switch {
	case errors.Is(err, transcript.ErrNotFound), errors.Is(err, transcript.ErrInvalidKey):
		respondError(w, http.StatusNotFound, "transcript_not_found", err.Error())
		return
	case errors.Is(err, chat.ErrMalformedRecord):
		respondError(w, http.StatusUnprocessableEntity, "transcript_malformed", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "transcript_unreadable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"key": key, "history": turns})
}
