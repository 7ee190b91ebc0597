package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/schovi/mediarec/internal/attachment"
	"github.com/schovi/mediarec/internal/capture"
	"github.com/schovi/mediarec/internal/daemon"
)

const (
	HeaderPartial  = "X-Mediarec-Partial"
	HeaderDuration = "X-Mediarec-Duration"
)

// APIResponse is the envelope for every JSON reply.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type CreateSlotRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type StartRequest struct {
	Device string `json:"device,omitempty"`
}

// StopResponse carries artifact metadata only; the media is fetched from
// the artifact endpoint.
type StopResponse struct {
	Slot     daemon.SlotInfo       `json:"slot"`
	Artifact *capture.ArtifactInfo `json:"artifact,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, daemon.ErrSlotNotFound):
		return http.StatusNotFound
	case errors.Is(err, daemon.ErrSlotExists), errors.Is(err, daemon.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, daemon.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, daemon.ErrCaptureFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeSlot replies with the slot state. Errors keep the state attached
// when the daemon returned one, so the portal can show the category.
func writeSlot(w http.ResponseWriter, status int, info daemon.SlotInfo, err error) {
	resp := APIResponse{Success: err == nil}
	if info.Name != "" {
		resp.Data = info
	}
	if err != nil {
		resp.Error = err.Error()
		status = statusFor(err)
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), APIResponse{Success: false, Error: err.Error()})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    map[string]int{"slots": len(s.daemon.List())},
	})
}

func (s *Server) listSlotsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.daemon.List()})
}

func (s *Server) createSlotHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", daemon.ErrInvalidRequest, err))
		return
	}

	info, err := s.daemon.CreateSlot(req.Name, capture.Kind(req.Kind))
	writeSlot(w, http.StatusCreated, info, err)
}

func (s *Server) getSlotHandler(w http.ResponseWriter, r *http.Request) {
	info, err := s.daemon.Info(mux.Vars(r)["name"])
	writeSlot(w, http.StatusOK, info, err)
}

func (s *Server) deleteSlotHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.Kill(mux.Vars(r)["name"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: %v", daemon.ErrInvalidRequest, err))
			return
		}
	}

	info, err := s.daemon.StartSlot(r.Context(), mux.Vars(r)["name"], req.Device)
	writeSlot(w, http.StatusOK, info, err)
}

func (s *Server) pauseHandler(w http.ResponseWriter, r *http.Request) {
	info, err := s.daemon.PauseSlot(mux.Vars(r)["name"])
	writeSlot(w, http.StatusOK, info, err)
}

func (s *Server) resumeHandler(w http.ResponseWriter, r *http.Request) {
	info, err := s.daemon.ResumeSlot(mux.Vars(r)["name"])
	writeSlot(w, http.StatusOK, info, err)
}

func (s *Server) clearHandler(w http.ResponseWriter, r *http.Request) {
	info, err := s.daemon.ClearSlot(mux.Vars(r)["name"])
	writeSlot(w, http.StatusOK, info, err)
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	var timeout time.Duration
	if v := r.URL.Query().Get("timeout_sec"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec < 0 {
			writeError(w, fmt.Errorf("%w: timeout_sec must be a non-negative integer", daemon.ErrInvalidRequest))
			return
		}
		timeout = time.Duration(sec) * time.Second
	}

	info, artifact, err := s.daemon.StopSlot(r.Context(), mux.Vars(r)["name"], timeout)
	if err != nil {
		writeSlot(w, http.StatusOK, info, err)
		return
	}

	artifactInfo := artifact.Info()
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    StopResponse{Slot: info, Artifact: &artifactInfo},
	})
}

// artifactHandler streams the finished recording with its media type.
func (s *Server) artifactHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	a, err := s.daemon.Artifact(name)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", a.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(a.Size()))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attachment.FileName(name, a)))
	w.Header().Set(HeaderDuration, strconv.Itoa(a.Duration))
	if a.Partial {
		w.Header().Set(HeaderPartial, "true")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(a.Data)
}
