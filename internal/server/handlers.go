package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"
)

var md = goldmark.New()

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		s.serverError(w, err, "loading stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sources": map[string]any{
			"total":    stats.Sources,
			"queued":   stats.SourcesQueued,
			"fetching": stats.SourcesFetching,
			"error":    stats.SourcesError,
		},
		"items": map[string]any{
			"total":     stats.Items,
			"new":       stats.ItemsNew,
			"processed": stats.ItemsProcessed,
			"error":     stats.ItemsError,
		},
		"briefings":         stats.Briefings,
		"reports":           stats.Reports,
		"credited_accounts": stats.CreditedAccounts,
		"queues": map[string]any{
			"fetch":      s.fetchQueue.Size(),
			"processing": s.processQueue.Size(),
		},
	})
}

func (s *Server) handleTriggerFetch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.fetchSched.TriggerNow(id); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"source_id": id, "status": "queued"})
}

func (s *Server) handleRunBriefing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	b, err := s.store.GetBriefing(id)
	if err != nil {
		s.serverError(w, err, "loading briefing")
		return
	}
	if b == nil {
		http.NotFound(w, r)
		return
	}

	funded, err := s.gate.HasCredit(b.AccountID)
	if err != nil {
		s.serverError(w, err, "checking credit")
		return
	}
	if !funded {
		writeJSON(w, http.StatusPaymentRequired, map[string]any{"error": "account has no credit"})
		return
	}

	report, err := s.executor.Execute(*b)
	if err != nil {
		s.serverError(w, err, "executing briefing")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report_id":  report.ID,
		"item_count": report.ItemCount,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := s.store.GetReport(id)
	if err != nil {
		s.serverError(w, err, "loading report")
		return
	}
	if report == nil {
		http.NotFound(w, r)
		return
	}

	var buf bytes.Buffer
	if err := md.Convert([]byte(report.BodyMarkdown), &buf); err != nil {
		s.serverError(w, err, "rendering report")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	// Briefing names are free text.
	fmt.Fprintf(w, "<!doctype html><html><head><title>%s</title></head><body>\n", html.EscapeString(report.Title))
	w.Write(buf.Bytes())
	fmt.Fprint(w, "</body></html>\n")
}

func (s *Server) handleSetCredits(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body struct {
		Balance int `json:"balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
		return
	}
	if body.Balance < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "balance must be non-negative"})
		return
	}

	if err := s.store.SetCreditBalance(id, body.Balance, time.Now()); err != nil {
		s.serverError(w, err, "setting balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "balance": body.Balance})
}

func (s *Server) serverError(w http.ResponseWriter, err error, msg string) {
	s.log.Error().Err(err).Msg(msg)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
