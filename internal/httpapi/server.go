// Package httpapi exposes the order-ingress REST surface over
// gorilla/mux: order submission and cancellation, and read endpoints for
// the book, individual orders, a client's fills, and a client's risk
// state. Websocket upgrade routes for the market-data and fill push
// channels are registered on the same router.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fenrir-lob/internal/book"
	"fenrir-lob/internal/ingress"
	"fenrir-lob/internal/metrics"
	"fenrir-lob/internal/models"
	"fenrir-lob/internal/risk"
	"fenrir-lob/internal/ws"
)

// Server wires the ingress gateway and push hubs to an HTTP router.
type Server struct {
	gateway   *ingress.Gateway
	marketHub *ws.Hub
	fillHub   *ws.FillHub
	metrics   *metrics.Metrics
	maxLevels int
	startTime time.Time
	log       zerolog.Logger
}

// New creates a Server. Call Router to obtain the http.Handler to serve.
func New(gw *ingress.Gateway, marketHub *ws.Hub, fillHub *ws.FillHub, m *metrics.Metrics, maxLevels int, log zerolog.Logger) *Server {
	return &Server{
		gateway:   gw,
		marketHub: marketHub,
		fillHub:   fillHub,
		metrics:   m,
		maxLevels: maxLevels,
		startTime: time.Now(),
		log:       log.With().Str("component", "httpapi").Logger(),
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleGetMetrics).Methods(http.MethodGet)
	r.HandleFunc("/order", s.handleSubmitOrder).Methods(http.MethodPost)
	r.HandleFunc("/cancel/{order_id}", s.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/book", s.handleBook).Methods(http.MethodGet)
	r.HandleFunc("/order/{order_id}", s.handleGetOrder).Methods(http.MethodGet)
	r.HandleFunc("/fills/{client_id}", s.handleGetFills).Methods(http.MethodGet)
	r.HandleFunc("/risk/{client_id}", s.handleGetRisk).Methods(http.MethodGet)
	r.HandleFunc("/ws/market", s.handleWSMarket).Methods(http.MethodGet)
	r.HandleFunc("/ws/fills/{client_id}", s.handleWSFills).Methods(http.MethodGet)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"order":     "POST /order",
		"cancel":    "POST /cancel/{order_id}",
		"book":      "GET /book",
		"get_order": "GET /order/{order_id}",
		"fills":     "GET /fills/{client_id}",
		"risk":      "GET /risk/{client_id}",
		"health":    "GET /health",
		"metrics":   "GET /metrics",
		"ws_market": "GET /ws/market",
		"ws_fills":  "GET /ws/fills/{client_id}",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics)
}

type submitOrderRequest struct {
	ClientID string            `json:"client_id"`
	Side     models.Side       `json:"side"`
	Type     models.OrderType  `json:"type"`
	Size     int64             `json:"size"`
	Price    *decimal.Decimal  `json:"price,omitempty"`
	Symbol   string            `json:"symbol,omitempty"`
}

type submitOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request: malformed request body")
		return
	}

	result, err := s.gateway.Submit(r.Context(), ingress.SubmitRequest{
		ClientID:   req.ClientID,
		Side:       req.Side,
		Type:       req.Type,
		Size:       req.Size,
		LimitPrice: req.Price,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := submitOrderResponse{OrderID: result.OrderID, Status: submitStatusWire(result.Status)}
	switch result.Status {
	case models.Active:
		resp.Message = "order added to book"
	case models.PartiallyFilled:
		resp.Message = "order partially filled, residual resting or consumed"
	case models.Filled:
		resp.Message = "order filled"
	case models.Rejected:
		resp.Message = "market order rejected: no opposite liquidity"
	}
	writeJSON(w, http.StatusOK, resp)
}

// submitStatusWire maps the internal order-lifecycle status to the
// POST /order response vocabulary, which only ever names a resting
// order "accepted" rather than the internal "active".
func submitStatusWire(status models.OrderStatus) string {
	if status == models.Active {
		return "accepted"
	}
	return status.String()
}

type cancelResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]

	order, err := s.gateway.Cancel(r.Context(), orderID)
	if err != nil {
		writeBookError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{OrderID: order.ID, Status: order.Status.String()})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	levels := s.maxLevels
	if q := r.URL.Query().Get("levels"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			levels = n
		}
	}

	snap, err := s.gateway.Snapshot(r.Context(), levels)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "bad_request: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bookView(snap))
}

type bookLevel [2]interface{}

type bookResponse struct {
	Bids      []bookLevel      `json:"bids"`
	Asks      []bookLevel      `json:"asks"`
	BestBid   *decimal.Decimal `json:"best_bid,omitempty"`
	BestAsk   *decimal.Decimal `json:"best_ask,omitempty"`
	Mid       *decimal.Decimal `json:"mid,omitempty"`
	Spread    *decimal.Decimal `json:"spread,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func bookView(snap book.Snapshot) bookResponse {
	resp := bookResponse{Timestamp: snap.Timestamp}
	for _, l := range snap.Bids {
		resp.Bids = append(resp.Bids, bookLevel{l.Price, l.Size})
	}
	for _, l := range snap.Asks {
		resp.Asks = append(resp.Asks, bookLevel{l.Price, l.Size})
	}
	if len(snap.Bids) > 0 {
		bb := snap.BestBid
		resp.BestBid = &bb
	}
	if len(snap.Asks) > 0 {
		ba := snap.BestAsk
		resp.BestAsk = &ba
	}
	if snap.HasMid {
		mid := snap.Mid
		resp.Mid = &mid
	}
	if snap.HasSpread {
		sp := snap.Spread
		resp.Spread = &sp
	}
	return resp
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]

	order, err := s.gateway.GetOrder(r.Context(), orderID)
	if err != nil {
		writeBookError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleGetFills(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]

	fills, err := s.gateway.GetFills(r.Context(), clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "bad_request: "+err.Error())
		return
	}
	if fills == nil {
		fills = []*models.Fill{}
	}
	writeJSON(w, http.StatusOK, fills)
}

func (s *Server) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]

	snap, err := s.gateway.GetRisk(r.Context(), clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "bad_request: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleWSMarket(w http.ResponseWriter, r *http.Request) {
	snap, err := s.gateway.Snapshot(r.Context(), s.maxLevels)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "bad_request: "+err.Error())
		return
	}
	s.marketHub.ServeHTTP(w, r, bookView(snap))
}

const defaultFillBacklog = 10

func (s *Server) handleWSFills(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]
	recent := s.gateway.RecentFills(clientID, defaultFillBacklog)
	backlog := make([]interface{}, 0, len(recent))
	for _, f := range recent {
		backlog = append(backlog, map[string]interface{}{
			"event":     "fill",
			"order_id":  f.OrderID,
			"side":      f.Side,
			"price":     f.Price,
			"size":      f.Size,
			"timestamp": f.Timestamp,
		})
	}
	s.fillHub.ServeHTTP(w, r, clientID, backlog)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeBookError maps a book.Error to its HTTP status and a risk.Error to
// 400; any other error (including ctx cancellation) is reported as a
// server error.
func writeBookError(w http.ResponseWriter, err error) {
	if bookErr, ok := err.(*book.Error); ok {
		switch bookErr.Kind {
		case book.NotFound:
			writeError(w, http.StatusNotFound, bookErr.Error())
			return
		case book.NotCancelable, book.BadRequest:
			writeError(w, http.StatusBadRequest, bookErr.Error())
			return
		}
	}
	if riskErr, ok := err.(*risk.Error); ok {
		writeError(w, http.StatusBadRequest, riskErr.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "bad_request: "+err.Error())
}
