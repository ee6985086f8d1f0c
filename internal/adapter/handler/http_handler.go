package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rl1809/seckill/internal/core/service"
)

// Admitter accepts purchase attempts.
type Admitter interface {
	Submit(ctx context.Context, itemID, userID string) error
}

type StockChecker interface {
	CheckStock(ctx context.Context, itemID string) (int, error)
}

type HTTPHandler struct {
	gate   Admitter
	stock  StockChecker
	logger *slog.Logger
}

type SeckillHTTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type StockHTTPResponse struct {
	ItemID string `json:"item_id"`
	Stock  int    `json:"stock"`
}

func NewHTTPHandler(gate Admitter, stock StockChecker, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{gate: gate, stock: stock, logger: logger}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Route("/seckill", func(r chi.Router) {
		r.Post("/{itemID}", h.Seckill)
		r.Get("/stock/{itemID}", h.CheckStock)
	})

	return r
}

func (h *HTTPHandler) Seckill(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	userID := r.URL.Query().Get("userId")
	if itemID == "" || userID == "" {
		writeJSON(w, http.StatusBadRequest, SeckillHTTPResponse{
			Success: false,
			Message: "missing item id or user id",
		})
		return
	}

	if err := h.gate.Submit(r.Context(), itemID, userID); err != nil {
		status, message := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("seckill request failed", "item_id", itemID, "user_id", userID, "error", err)
		}
		writeJSON(w, status, SeckillHTTPResponse{
			Success: false,
			Message: message,
		})
		return
	}

	writeJSON(w, http.StatusAccepted, SeckillHTTPResponse{
		Success: true,
		Message: "request accepted",
	})
}

func (h *HTTPHandler) CheckStock(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	stock, err := h.stock.CheckStock(r.Context(), itemID)
	if err != nil {
		status, message := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("stock query failed", "item_id", itemID, "error", err)
		}
		writeJSON(w, status, SeckillHTTPResponse{
			Success: false,
			Message: message,
		})
		return
	}

	writeJSON(w, http.StatusOK, StockHTTPResponse{ItemID: itemID, Stock: stock})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrSoldOut):
		return http.StatusGone, "sold out"
	case errors.Is(err, service.ErrBusy):
		return http.StatusTooManyRequests, "too many requests, retry later"
	case errors.Is(err, service.ErrItemNotFound):
		return http.StatusNotFound, "item not found"
	case errors.Is(err, service.ErrSaleNotStarted):
		return http.StatusForbidden, "sale not started"
	case errors.Is(err, service.ErrSaleEnded):
		return http.StatusForbidden, "sale ended"
	case errors.Is(err, service.ErrGateClosed):
		return http.StatusServiceUnavailable, "service shutting down"
	}
	return http.StatusInternalServerError, "internal error"
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
