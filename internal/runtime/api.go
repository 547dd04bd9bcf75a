package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/roomkit-live/roomkit-voice/internal/audio"
	"github.com/roomkit-live/roomkit-voice/internal/enroll"
	"github.com/roomkit-live/roomkit-voice/internal/profile"
	"github.com/roomkit-live/roomkit-voice/internal/protocol"
)

func (r *Runtime) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/profiles", r.handleListProfiles)
	mux.HandleFunc("DELETE /v1/profiles/{name}", r.handleDeleteProfile)
	mux.HandleFunc("POST /v1/profiles/{name}/primary", r.handleSetPrimary)
	mux.HandleFunc("POST /v1/enroll", r.handleEnroll)
	mux.HandleFunc("GET /v1/attempts", r.handleListAttempts)
}

type enrollRequest struct {
	Name       string  `json:"name"`
	Duration   float64 `json:"duration_sec"`
	Multi      bool    `json:"multi"`
	SegmentSec float64 `json:"segment_sec"`
	HopSec     float64 `json:"hop_sec"`
	SetPrimary bool    `json:"set_primary"`
}

type enrollResponse struct {
	Name       string `json:"name"`
	Embeddings int    `json:"embeddings"`
	Dimension  int    `json:"dimension"`
}

func (r *Runtime) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	profiles, err := r.profiles.LoadAll()
	if err != nil {
		r.writeError(w, err)
		return
	}
	if profiles == nil {
		profiles = []profile.Profile{}
	}
	r.writeJSON(w, http.StatusOK, profiles)
}

func (r *Runtime) handleDeleteProfile(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	if err := r.profiles.Delete(name); err != nil {
		r.writeError(w, err)
		return
	}
	r.publishProfileChanged(name, "deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleSetPrimary(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	if err := r.profiles.SetPrimary(name); err != nil {
		r.writeError(w, err)
		return
	}
	r.publishProfileChanged(name, "primary")
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleEnroll(w http.ResponseWriter, req *http.Request) {
	var body enrollRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		r.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.Name == "" {
		r.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	var embeddings [][]float32
	if body.Multi {
		vecs, err := r.enroll.RecordAndExtractMulti(req.Context(), enroll.MultiOptions{
			Options:    enroll.Options{Duration: body.Duration},
			SegmentSec: body.SegmentSec,
			HopSec:     body.HopSec,
		})
		if err != nil {
			r.writeError(w, err)
			return
		}
		embeddings = vecs
	} else {
		vec, err := r.enroll.RecordAndExtract(req.Context(), enroll.Options{Duration: body.Duration})
		if err != nil {
			r.writeError(w, err)
			return
		}
		embeddings = [][]float32{vec}
	}

	total, err := r.upsertProfile(body.Name, embeddings)
	if err != nil {
		r.writeError(w, err)
		return
	}
	r.publishProfileChanged(body.Name, "saved")

	if body.SetPrimary {
		if err := r.profiles.SetPrimary(body.Name); err != nil {
			r.writeError(w, err)
			return
		}
		r.publishProfileChanged(body.Name, "primary")
	}

	r.writeJSON(w, http.StatusOK, enrollResponse{
		Name:       body.Name,
		Embeddings: total,
		Dimension:  r.enroll.Dimension(),
	})
}

// upsertProfile appends the new samples to an existing profile or
// creates the profile on first enrollment. Returns the total sample
// count after the append.
func (r *Runtime) upsertProfile(name string, embeddings [][]float32) (int, error) {
	for _, vec := range embeddings {
		if err := r.profiles.AddEmbedding(name, vec); err != nil {
			var nf *profile.NotFoundError
			if !errors.As(err, &nf) {
				return 0, err
			}
			p := &profile.Profile{Name: name, Embeddings: embeddings}
			if err := r.profiles.Save(p); err != nil {
				return 0, err
			}
			return len(p.Embeddings), nil
		}
	}

	profiles, err := r.profiles.LoadAll()
	if err != nil {
		return 0, err
	}
	for _, p := range profiles {
		if p.Name == name {
			return len(p.Embeddings), nil
		}
	}
	return len(embeddings), nil
}

func (r *Runtime) handleListAttempts(w http.ResponseWriter, req *http.Request) {
	limit := 50
	if s := req.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	attempts, err := r.attempts.Recent(req.Context(), limit)
	if err != nil {
		r.writeError(w, err)
		return
	}
	r.writeJSON(w, http.StatusOK, attempts)
}

func (r *Runtime) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.logger.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

func (r *Runtime) writeError(w http.ResponseWriter, err error) {
	var (
		devErr *audio.DeviceError
		valErr *enroll.ValidationError
		nfErr  *profile.NotFoundError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &devErr):
		status = http.StatusServiceUnavailable
	case errors.As(err, &valErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &nfErr):
		status = http.StatusNotFound
	}
	r.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (r *Runtime) publishProfileChanged(name, change string) {
	if r.busClient == nil {
		return
	}
	msg := protocol.ProfileChanged{Name: name, Change: change, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Warn("failed to marshal profile event", slog.String("error", err.Error()))
		return
	}
	if err := r.busClient.Conn().Publish(protocol.SubjectProfileChanged, data); err != nil {
		r.logger.Warn("failed to publish profile event", slog.String("error", err.Error()))
	}
}
