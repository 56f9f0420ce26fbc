package handlers

import (
	"net/http"
	"strconv"
)

// Traces carry message content, so users only see their own.
func (h *handler) listTraces(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.deps.Traces.List(user.Username, r.URL.Query().Get("chat_id"), limit))
}

func (h *handler) getTrace(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	t := h.deps.Traces.Get(r.PathValue("id"))
	if t == nil || t.UserID != user.Username {
		writeJSONError(w, http.StatusNotFound, "trace not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}
