package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/folio-labs/portfolio-service/internal/auth"
	"github.com/folio-labs/portfolio-service/internal/ledger"
)

type portfolioRequest struct {
	Name string `json:"name"`
}

type buyRequest struct {
	Ticker   string          `json:"ticker"`
	Count    decimal.Decimal `json:"count"`
	BuyPrice decimal.Decimal `json:"buy_price"`
	OrderFee decimal.Decimal `json:"order_fee"`
}

type sellRequest struct {
	Ticker string          `json:"ticker"`
	Count  decimal.Decimal `json:"count"`
}

// --- Portfolios ---

func (s *Server) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	list, err := s.portfolios.ListPortfolios(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, list)
}

func (s *Server) handleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req portfolioRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.portfolios.CreatePortfolio(r.Context(), auth.UserIDFromContext(r.Context()), req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, p)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.portfolios.GetPortfolio(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "portfolioID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, p)
}

func (s *Server) handleRenamePortfolio(w http.ResponseWriter, r *http.Request) {
	var req portfolioRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.portfolios.RenamePortfolio(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "portfolioID"), req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, p)
}

func (s *Server) handleDeletePortfolio(w http.ResponseWriter, r *http.Request) {
	err := s.portfolios.DeletePortfolio(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "portfolioID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := s.portfolios.Distribution(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "portfolioID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, dist)
}

// --- Elements ---

func (s *Server) handleBuyAsset(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	e, err := s.portfolios.BuyAsset(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "portfolioID"),
		req.Ticker, req.Count, req.BuyPrice, req.OrderFee)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, e)
}

func (s *Server) handleSellAsset(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := s.portfolios.SellAsset(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "portfolioID"),
		req.Ticker, req.Count)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, out)
}

func (s *Server) handleGetElement(w http.ResponseWriter, r *http.Request) {
	e, err := s.portfolios.GetElement(r.Context(), auth.UserIDFromContext(r.Context()),
		chi.URLParam(r, "portfolioID"), chi.URLParam(r, "elementID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, e)
}

func (s *Server) handleUpdateElement(w http.ResponseWriter, r *http.Request) {
	var req ledger.ElementUpdate
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := s.portfolios.UpdateElement(r.Context(), auth.UserIDFromContext(r.Context()),
		chi.URLParam(r, "portfolioID"), chi.URLParam(r, "elementID"), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, out)
}

func (s *Server) handleDeleteElement(w http.ResponseWriter, r *http.Request) {
	err := s.portfolios.DeleteElement(r.Context(), auth.UserIDFromContext(r.Context()),
		chi.URLParam(r, "portfolioID"), chi.URLParam(r, "elementID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}
