// SPDX-License-Identifier: MIT
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ManuGH/loopsync/internal/config"
	"github.com/ManuGH/loopsync/internal/engine"
	"github.com/ManuGH/loopsync/internal/journal"
	xlog "github.com/ManuGH/loopsync/internal/log"
)

// maxBodyBytes bounds every control-surface request body.
const maxBodyBytes = 1 << 20

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{"config": s.ctrl.Settings()})
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeClientError(w, err)
		return
	}
	patch, err := config.ParsePatch(body)
	if err != nil {
		writeClientError(w, err)
		return
	}
	merged, err := config.Merge(s.ctrl.Settings(), patch)
	if err != nil {
		writeClientError(w, err)
		return
	}
	if err := config.Save(s.configPath, merged); err != nil {
		s.logger.Error().Err(err).Str(xlog.FieldEvent, "api.config_save_failed").Msg("config save failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	s.ctrl.ApplySettings(r.Context(), merged)
	writeOK(w, map[string]any{"config": merged})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeClientError(w, err)
		return
	}
	mode, ok := engine.ParseMode(req.Mode)
	if !ok {
		writeClientError(w, errors.New("mode must be off, manual or auto"))
		return
	}
	s.ctrl.SetMode(r.Context(), mode)
	writeOK(w, map[string]any{"mode": mode})
}

func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.PreloadAll(r.Context()); err != nil {
		writeOpError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StartAll(r.Context()); err != nil {
		writeOpError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.PauseAll(r.Context()); err != nil {
		writeOpError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode  *string `json:"mode"`
		Frame *int64  `json:"frame"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeClientError(w, err)
		return
	}

	mode := s.ctrl.Settings().ResyncMode
	if req.Mode != nil {
		m, ok := config.NormalizeResyncMode(*req.Mode)
		if !ok {
			writeClientError(w, errors.New("resync mode must be cut or fade"))
			return
		}
		mode = m
	}
	frame := s.ctrl.TargetFrame()
	if req.Frame != nil {
		if *req.Frame < 0 {
			writeClientError(w, errors.New("frame must not be negative"))
			return
		}
		frame = *req.Frame
	}

	if err := s.ctrl.ResyncAll(r.Context(), mode, frame, "manual"); err != nil {
		writeOpError(w, err)
		return
	}
	writeOK(w, map[string]any{"mode": mode, "frame": frame})
}

func (s *Server) handleResetClock(w http.ResponseWriter, r *http.Request) {
	s.ctrl.ResetClock(r.Context())
	writeOK(w, nil)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeOK(w, map[string]any{"events": []any{}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	writeOK(w, map[string]any{"events": events})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.Status()
	writeOK(w, map[string]any{"connections": st.Connections, "slots": len(st.Rows)})
}

// decodeBody parses an optional JSON body; an empty body decodes to zero
// values so bare POSTs work.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
