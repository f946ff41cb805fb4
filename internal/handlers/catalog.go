package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/greencycle/apiserver/internal/services"
	"github.com/greencycle/apiserver/types"
)

// CatalogHandler serves recycling bins and reward cards.
type CatalogHandler struct {
	catalog *services.CatalogService
	logger  *slog.Logger
}

func NewCatalogHandler(catalog *services.CatalogService, logger *slog.Logger) *CatalogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogHandler{catalog: catalog, logger: logger}
}

// CatalogRouter registers bin and reward routes on r.
func CatalogRouter(r chi.Router, catalog *services.CatalogService, logger *slog.Logger) {
	handler := NewCatalogHandler(catalog, logger)

	r.Get("/bins", handler.NearestBins)
	r.Route("/rewards", func(r chi.Router) {
		r.Get("/", handler.ListRewards)
		r.Get("/{rewardID}", handler.GetReward)
	})
}

// NearestBins ranks bins by distance from the lat/lon query parameters.
func (h *CatalogHandler) NearestBins(w http.ResponseWriter, r *http.Request) {
	lat, err := parseCoordinate(r, "lat")
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	lon, err := parseCoordinate(r, "lon")
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	bins, err := h.catalog.NearestBins(lat, lon)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, BinsResponse{Bins: bins})
}

func (h *CatalogHandler) ListRewards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RewardsResponse{Rewards: h.catalog.Rewards()})
}

func (h *CatalogHandler) GetReward(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "rewardID"))
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid reward id")
		return
	}

	reward, err := h.catalog.Reward(id)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, RewardResponse{Reward: reward})
}

type BinsResponse struct {
	Bins []types.BinDistance `json:"bins"`
}

type RewardsResponse struct {
	Rewards []types.RewardCard `json:"rewards"`
}

type RewardResponse struct {
	Reward types.RewardCard `json:"reward"`
}

func parseCoordinate(r *http.Request, name string) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, services.ErrMissingFields
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.Join(&services.ValidationError{Field: name, Reason: "must be a number"}, err)
	}
	return value, nil
}
