// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/loopsync/internal/config"
	"github.com/ManuGH/loopsync/internal/engine"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOK writes {ok:true} plus any extra payload fields.
func writeOK(w http.ResponseWriter, extra map[string]any) {
	body := map[string]any{"ok": true}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// writeClientError writes a 400 {ok:false} response
func writeClientError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
}

// writeOpError maps an operation failure to a response. Validation failures
// are the client's fault; everything else is an upstream problem and carries
// the per-slot failure list when one exists.
func writeOpError(w http.ResponseWriter, err error) {
	if errors.Is(err, config.ErrInvalid) {
		writeClientError(w, err)
		return
	}
	body := map[string]any{"ok": false, "error": err.Error()}
	var agg *engine.AggregateError
	if errors.As(err, &agg) {
		failures := make([]map[string]any, 0, len(agg.Failures))
		for _, f := range agg.Failures {
			failures = append(failures, map[string]any{"slot": f.Slot, "error": f.Err.Error()})
		}
		body["failures"] = failures
	}
	writeJSON(w, http.StatusBadGateway, body)
}
