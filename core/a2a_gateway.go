package core

// a2a_gateway.go — HTTP transport for the agent-to-agent invoice API:
// create, fetch, and verify invoices, routed with go-chi/chi.

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const defaultInvoiceTTL = 24 * time.Hour

type A2AGateway struct {
	invoices *InvoiceEngine
	log      *logrus.Logger
	router   chi.Router
}

func NewA2AGateway(invoices *InvoiceEngine, log *logrus.Logger) *A2AGateway {
	g := &A2AGateway{invoices: invoices, log: log}
	g.router = g.buildRouter()
	return g
}

func (g *A2AGateway) Handler() http.Handler { return g.router }

func (g *A2AGateway) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(g.logRequests)

	r.Route("/a2a/invoices", func(r chi.Router) {
		r.Post("/", g.handleCreateInvoice)
		r.Get("/{invoiceID}", g.handleGetInvoice)
		r.Post("/{invoiceID}/verify", g.handleVerifyInvoice)
	})
	return r
}

func (g *A2AGateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		if g.log != nil {
			g.log.WithFields(logrus.Fields{
				"method":   req.Method,
				"path":     req.URL.Path,
				"duration": time.Since(start).String(),
			}).Info("a2a request")
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type createInvoiceRequest struct {
	Payee    InvoicePayee      `json:"payee"`
	Payment  InvoicePayment    `json:"payment"`
	Callback *InvoiceCallback  `json:"callback,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	TTLSec   int64             `json:"ttlSeconds,omitempty"`
}

func (g *A2AGateway) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := ValidateInvoiceRequest(req.Payee, req.Payment, req.Callback); err != nil {
		writeError(w, http.StatusBadRequest, RedactError(err))
		return
	}

	ttl := defaultInvoiceTTL
	if req.TTLSec > 0 {
		ttl = time.Duration(req.TTLSec) * time.Second
	}
	inv, err := g.invoices.CreateInvoice(req.Payee, req.Payment, req.Callback, req.Metadata, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, RedactError(err))
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (g *A2AGateway) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "invoiceID")
	inv, ok := g.invoices.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "invoice not found")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

type verifyInvoiceRequest struct {
	Txid          string  `json:"txid"`
	ClaimedAmount float64 `json:"claimedAmount"`
}

func (g *A2AGateway) handleVerifyInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "invoiceID")
	var req verifyInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Txid == "" {
		writeError(w, http.StatusBadRequest, "txid required")
		return
	}

	result, err := g.invoices.VerifyPayment(r.Context(), id, req.Txid, DogeToKoinu(req.ClaimedAmount))
	if err != nil {
		if kind, ok := KindOf(err); ok && kind == ErrValidation {
			writeError(w, http.StatusNotFound, RedactError(err))
			return
		}
		writeError(w, http.StatusBadGateway, RedactError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}
