package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/folio-labs/portfolio-service/internal/marketdata"
	"github.com/folio-labs/portfolio-service/internal/ticker"
)

// Market data is proxied, never stored.

func (s *Server) handleSearchAssets(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := s.market.Search(r.Context(), query, strings.TrimSpace(r.URL.Query().Get("country")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if results == nil {
		results = []marketdata.SearchResult{}
	}
	writeSuccess(w, http.StatusOK, results)
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	sym, err := ticker.Parse(chi.URLParam(r, "ticker"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	q, err := s.market.Quote(r.Context(), sym.Ticker)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, q)
}

func (s *Server) handlePriceData(w http.ResponseWriter, r *http.Request) {
	sym, err := ticker.Parse(chi.URLParam(r, "ticker"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	period, interval := lowerQuery(r, "period"), lowerQuery(r, "interval")
	if period == "" {
		writeError(w, http.StatusBadRequest, "period is required")
		return
	}
	if interval == "" {
		writeError(w, http.StatusBadRequest, "interval is required")
		return
	}
	if err := marketdata.ValidateRange(period, interval); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	points, err := s.market.PriceHistory(r.Context(), sym.Ticker, period, interval)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if points == nil {
		points = []marketdata.PricePoint{}
	}
	writeSuccess(w, http.StatusOK, points)
}

func lowerQuery(r *http.Request, key string) string {
	return strings.ToLower(strings.TrimSpace(r.URL.Query().Get(key)))
}
