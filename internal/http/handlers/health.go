package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

type healthView struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health runs every registered dependency check with a short timeout.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(a.Checks))
	for name := range a.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	view := healthView{Status: "ok", Checks: make(map[string]string, len(names))}
	for _, name := range names {
		if err := a.Checks[name](ctx); err != nil {
			view.Status = "degraded"
			view.Checks[name] = err.Error()
			continue
		}
		view.Checks[name] = "ok"
	}
	if view.Status != "ok" {
		a.errorWithData(w, r, http.StatusServiceUnavailable, "unavailable", "dependency check failed", view)
		return
	}
	a.json(w, r, http.StatusOK, view)
}
