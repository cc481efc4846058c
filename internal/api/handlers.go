package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/deal-scraper/internal/database"
	"github.com/maltedev/deal-scraper/internal/deals"
	"github.com/maltedev/deal-scraper/internal/models"
	"github.com/maltedev/deal-scraper/internal/storage"
)

// Request bodies above this size are rejected by the JSON decoder.
const maxBodyBytes = 1 << 20

type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, url string) *models.Metadata
}

type CacheAdmin interface {
	Stats() storage.CacheStats
	ClearExpired() int
	ClearAll() int
}

type DealCreator interface {
	CreateDeal(ctx context.Context, req deals.DealRequest) (*models.Deal, error)
}

type DealReader interface {
	GetByID(ctx context.Context, id int64) (*models.Deal, error)
}

type BacklogReporter interface {
	Backlog(ctx context.Context) (database.Backlog, error)
}

// Handlers serves the metadata and cache endpoints. The deal endpoints are
// only routed when a DealCreator is configured.
type Handlers struct {
	metadata MetadataFetcher
	cache    CacheAdmin
	creator  DealCreator
	reader   DealReader
	backlog  BacklogReporter
	logger   *slog.Logger
}

type HandlerOption func(*Handlers)

func WithDeals(creator DealCreator, reader DealReader) HandlerOption {
	return func(h *Handlers) {
		h.creator = creator
		h.reader = reader
	}
}

func WithBacklog(b BacklogReporter) HandlerOption {
	return func(h *Handlers) { h.backlog = b }
}

func NewHandlers(metadata MetadataFetcher, cache CacheAdmin, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		metadata: metadata,
		cache:    cache,
		logger:   logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type MetadataRequest struct {
	URL string `json:"url"`
}

// FetchMetadata always answers 200 for a present URL. Failures are reported
// through the sentinel title of the returned metadata.
func (h *Handlers) FetchMetadata(w http.ResponseWriter, r *http.Request) {
	var req MetadataRequest
	if !h.decode(w, r, &req) {
		return
	}

	url := strings.TrimSpace(req.URL)
	if url == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	h.respondJSON(w, http.StatusOK, h.metadata.FetchMetadata(r.Context(), url))
}

type CacheStatsResponse struct {
	Total      int     `json:"total"`
	Valid      int     `json:"valid"`
	Expired    int     `json:"expired"`
	TTLSeconds float64 `json:"ttl_seconds"`
}

func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats := h.cache.Stats()
	h.respondJSON(w, http.StatusOK, CacheStatsResponse{
		Total:      stats.Total,
		Valid:      stats.Valid,
		Expired:    stats.Expired,
		TTLSeconds: stats.TTL.Seconds(),
	})
}

type RemovedResponse struct {
	Removed int `json:"removed"`
}

func (h *Handlers) CleanupCache(w http.ResponseWriter, r *http.Request) {
	removed := h.cache.ClearExpired()
	h.logger.Info("cache cleanup", "removed", removed)
	h.respondJSON(w, http.StatusOK, RemovedResponse{Removed: removed})
}

func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	removed := h.cache.ClearAll()
	h.logger.Info("cache cleared", "removed", removed)
	h.respondJSON(w, http.StatusOK, RemovedResponse{Removed: removed})
}

func (h *Handlers) CreateDeal(w http.ResponseWriter, r *http.Request) {
	var req deals.DealRequest
	if !h.decode(w, r, &req) {
		return
	}

	deal, err := h.creator.CreateDeal(r.Context(), req)
	if err != nil {
		status := dealErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to create deal", "url", req.URL, "error", err)
			h.respondError(w, status, "failed to create deal")
			return
		}
		h.respondError(w, status, err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, deal)
}

func (h *Handlers) GetDeal(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "dealID"), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "invalid deal id")
		return
	}

	deal, err := h.reader.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get deal", "deal_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get deal")
		return
	}
	if deal == nil {
		h.respondError(w, http.StatusNotFound, "deal not found")
		return
	}

	h.respondJSON(w, http.StatusOK, deal)
}

// Backlog thresholds above which /health degrades.
const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.backlog != nil {
		backlog, err := h.backlog.Backlog(r.Context())
		switch {
		case err != nil:
			h.logger.Error("failed to read outbox backlog", "error", err)
			health["status"] = "error"
			health["message"] = "database unavailable"
			status = http.StatusServiceUnavailable
		case backlog.DeadLetter > deadLetterFailThreshold:
			health["outbox"] = backlog
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		case backlog.Pending > pendingWarnThreshold:
			health["outbox"] = backlog
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		default:
			health["outbox"] = backlog
		}
	}

	h.respondJSON(w, status, health)
}

func dealErrorStatus(err error) int {
	switch {
	case errors.Is(err, deals.ErrURLRequired),
		errors.Is(err, deals.ErrInvalidURL),
		errors.Is(err, deals.ErrInvalidPrice):
		return http.StatusBadRequest
	case errors.Is(err, deals.ErrDuplicateDeal):
		return http.StatusConflict
	case errors.Is(err, deals.ErrPriceUndetermined),
		errors.Is(err, deals.ErrTitleUndetermined):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
