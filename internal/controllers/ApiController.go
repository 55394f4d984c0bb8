package controllers

import (
	"errors"
	"freshanon/internal/models"
	"freshanon/internal/providers"
	"freshanon/internal/services"
	"freshanon/internal/structures"
	json "github.com/goccy/go-json"
	"net/http"
	"strings"
	"time"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MB
	statsCacheKey      = "stats"
)

type ApiController struct {
	logger  providers.Logger
	service services.MatchServiceInterface
	cache   providers.CacheProviderInterface

	statsTTL time.Duration
}

type participantRequest struct {
	ParticipantID string           `json:"participant_id"`
	Snapshot      *models.Snapshot `json:"snapshot,omitempty"`
}

type partnerResponse struct {
	PartnerID *string `json:"partner_id"`
}

type searchStatusResponse struct {
	ParticipantID string `json:"participant_id"`
	State         string `json:"state"`
	PartnerID     string `json:"partner_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

func NewApiController(logger providers.Logger, service services.MatchServiceInterface, cache providers.CacheProviderInterface, conf *structures.Config) *ApiController {
	return &ApiController{
		logger:   logger,
		service:  service,
		cache:    cache,
		statsTTL: conf.Cache.StatsTTL,
	}
}

func (ac *ApiController) decode(w http.ResponseWriter, r *http.Request) (*participantRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var payload participantRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return nil, false
	}
	payload.ParticipantID = strings.TrimSpace(payload.ParticipantID)
	if payload.ParticipantID == "" {
		http.Error(w, "participant_id is required", http.StatusBadRequest)
		return nil, false
	}
	return &payload, true
}

func (ac *ApiController) writeJSON(w http.ResponseWriter, status int, v any) {
	gson, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(gson)
}

func (ac *ApiController) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNotWaiting), errors.Is(err, models.ErrProfileNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInSession), errors.Is(err, models.ErrAlreadySearching):
		status = http.StatusConflict
	case errors.Is(err, models.ErrServiceUnavailable), errors.Is(err, models.ErrTransientStore):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		ac.logger.Errorf(providers.GetLogTypeByRequestType(r.Method), "%s %s: %s", r.Method, r.URL.Path, err)
	}
	http.Error(w, err.Error(), status)
}

func (ac *ApiController) writePartner(w http.ResponseWriter, partner string, ok bool) {
	resp := partnerResponse{}
	if ok {
		resp.PartnerID = &partner
	}
	ac.writeJSON(w, http.StatusOK, resp)
}

func (ac *ApiController) Enqueue(w http.ResponseWriter, r *http.Request) {
	payload, ok := ac.decode(w, r)
	if !ok {
		return
	}
	if _, err := ac.service.Enqueue(r.Context(), payload.ParticipantID, payload.Snapshot); err != nil {
		ac.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ac *ApiController) Cancel(w http.ResponseWriter, r *http.Request) {
	payload, ok := ac.decode(w, r)
	if !ok {
		return
	}
	if err := ac.service.Cancel(r.Context(), payload.ParticipantID); err != nil {
		ac.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AttemptPair answers 200 with a null partner when nobody fits yet.
func (ac *ApiController) AttemptPair(w http.ResponseWriter, r *http.Request) {
	payload, ok := ac.decode(w, r)
	if !ok {
		return
	}
	partner, paired, err := ac.service.AttemptPair(r.Context(), payload.ParticipantID)
	if err != nil {
		ac.writeError(w, r, err)
		return
	}
	ac.writePartner(w, partner, paired)
}

func (ac *ApiController) EndSession(w http.ResponseWriter, r *http.Request) {
	payload, ok := ac.decode(w, r)
	if !ok {
		return
	}
	partner, ended, err := ac.service.EndSession(r.Context(), payload.ParticipantID)
	if err != nil {
		ac.writeError(w, r, err)
		return
	}
	ac.writePartner(w, partner, ended)
}

func (ac *ApiController) GetPartner(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("p"))
	if id == "" {
		http.Error(w, "p is required", http.StatusBadRequest)
		return
	}
	partner, ok, err := ac.service.GetPartner(r.Context(), id)
	if err != nil {
		ac.writeError(w, r, err)
		return
	}
	ac.writePartner(w, partner, ok)
}

func (ac *ApiController) StartSearch(w http.ResponseWriter, r *http.Request) {
	payload, ok := ac.decode(w, r)
	if !ok {
		return
	}
	if err := ac.service.StartSearch(r.Context(), payload.ParticipantID, payload.Snapshot); err != nil {
		ac.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (ac *ApiController) SearchStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("p"))
	if id == "" {
		http.Error(w, "p is required", http.StatusBadRequest)
		return
	}
	o, ok := ac.service.SearchStatus(id)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	resp := searchStatusResponse{
		ParticipantID: o.ParticipantID,
		State:         string(o.State),
		PartnerID:     o.PartnerID,
	}
	if o.Err != nil {
		resp.Error = o.Err.Error()
	}
	ac.writeJSON(w, http.StatusOK, resp)
}

// GetStats serves pool counters, cached for cache.statsTTL. A zero TTL disables caching.
func (ac *ApiController) GetStats(w http.ResponseWriter, r *http.Request) {
	if data, ok := ac.cache.Get(statsCacheKey); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	stats, err := ac.service.Stats(r.Context())
	if err != nil {
		ac.writeError(w, r, err)
		return
	}
	gson, err := json.Marshal(stats)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if ac.statsTTL > 0 {
		ac.cache.SetTTL(statsCacheKey, gson, ac.statsTTL)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(gson)
}
