package handlers

import (
	"net/http"
)

// Health reports liveness only and does not touch the ledger store.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
