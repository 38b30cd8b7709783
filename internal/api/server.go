// Package api exposes the portfolio service over HTTP. Every response uses
// the envelope {"success": true, "response": ...} or
// {"success": false, "message": ...}.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/folio-labs/portfolio-service/internal/auth"
	"github.com/folio-labs/portfolio-service/internal/ledger"
	"github.com/folio-labs/portfolio-service/internal/marketdata"
	"github.com/folio-labs/portfolio-service/internal/metrics"
	"github.com/folio-labs/portfolio-service/internal/portfolio"
	"github.com/folio-labs/portfolio-service/internal/store"
	"github.com/folio-labs/portfolio-service/internal/ticker"
)

const maxBodyBytes = 1 << 20

// Server holds the HTTP handlers.
type Server struct {
	auth       *auth.Service
	portfolios *portfolio.Service
	market     marketdata.Provider
	log        zerolog.Logger
}

func NewServer(authSvc *auth.Service, portfolios *portfolio.Service, market marketdata.Provider, log zerolog.Logger) *Server {
	return &Server{auth: authSvc, portfolios: portfolios, market: market, log: log}
}

// Mount registers the /api/v1 routes on r.
func (s *Server) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/user/register", s.handleRegister)
		r.Post("/user/login", s.handleLogin)

		r.Route("/assets", func(r chi.Router) {
			r.Get("/search", s.handleSearchAssets)
			r.Get("/ticker/{ticker}", s.handleGetQuote)
			r.Get("/ticker/{ticker}/price-data", s.handlePriceData)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Delete("/user", s.handleDeleteAccount)

			r.Route("/user/portfolios", func(r chi.Router) {
				r.Get("/", s.handleListPortfolios)
				r.Post("/", s.handleCreatePortfolio)

				r.Route("/{portfolioID}", func(r chi.Router) {
					r.Get("/", s.handleGetPortfolio)
					r.Put("/", s.handleRenamePortfolio)
					r.Delete("/", s.handleDeletePortfolio)
					r.Get("/distribution", s.handleDistribution)

					r.Post("/elements", s.handleBuyAsset)
					r.Post("/elements/reduce", s.handleSellAsset)
					r.Get("/elements/{elementID}", s.handleGetElement)
					r.Put("/elements/{elementID}", s.handleUpdateElement)
					r.Delete("/elements/{elementID}", s.handleDeleteElement)
				})
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing auth token")
			return
		}

		u, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}

		ctx := auth.WithUserID(r.Context(), u.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessLog logs one line per request with its status, size and duration.
func AccessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &metrics.StatusWriter{ResponseWriter: w, Status: http.StatusOK}
			next.ServeHTTP(sw, r)

			evt := log.Info()
			if sw.Status >= http.StatusInternalServerError {
				evt = log.Warn()
			}
			evt.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", metrics.RoutePattern(r)).
				Int("status", sw.Status).
				Int("bytes", sw.Bytes).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

// --- Envelope ---

type envelope struct {
	Success  bool   `json:"success"`
	Response any    `json:"response,omitempty"`
	Message  string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, response any) {
	writeJSON(w, statusCode, envelope{Success: true, Response: response})
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, envelope{Success: false, Message: message})
}

// writeServiceError maps service errors to status codes. Details of
// unexpected errors are logged, never returned.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("route", metrics.RoutePattern(r)).
			Msg("request failed")
		writeError(w, status, "internal error")
		return
	}
	if status == http.StatusBadGateway {
		s.log.Warn().Err(err).Msg("market data provider unavailable")
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput),
		errors.Is(err, portfolio.ErrInvalidInput),
		errors.Is(err, portfolio.ErrDuplicate),
		errors.Is(err, portfolio.ErrUnsupportedAsset),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrUserExists),
		errors.Is(err, ticker.ErrInvalidTicker),
		errors.Is(err, marketdata.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized
	case errors.Is(err, portfolio.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, portfolio.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, marketdata.ErrTickerNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, marketdata.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}
