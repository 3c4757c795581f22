// Package handlers implements the HTTP surface listed under the control
// plane's external interfaces: webhook ingest, health/readiness, budget,
// routing, and incident endpoints. Every response follows the
// {ok, data|error} envelope.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/avimaybee/twinclaw/internal/budget"
	"github.com/avimaybee/twinclaw/internal/delivery"
	"github.com/avimaybee/twinclaw/internal/incident"
	"github.com/avimaybee/twinclaw/internal/router"
	"github.com/avimaybee/twinclaw/internal/store"
)

// Handlers bundles the collaborators the HTTP surface calls into.
type Handlers struct {
	Store    store.Store
	Router   *router.ModelRouter
	Budget   *budget.Governor
	Incident *incident.Manager
	Delivery *delivery.Worker
}

// New wires a Handlers collection.
func New(s store.Store, r *router.ModelRouter, b *budget.Governor, im *incident.Manager, dw *delivery.Worker) *Handlers {
	return &Handlers{Store: s, Router: r, Budget: b, Incident: im, Delivery: dw}
}

func writeOK(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "data": data})
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":    false,
		"error": map[string]string{"code": code, "message": message},
	})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
