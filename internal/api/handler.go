package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/aquamart/dispatch/internal/arbiter"
	"github.com/aquamart/dispatch/internal/ledger"
	"github.com/aquamart/dispatch/internal/lifecycle"
	"github.com/aquamart/dispatch/internal/notify"
	"github.com/aquamart/dispatch/internal/registry"
	ws "github.com/aquamart/dispatch/internal/websocket"
	"github.com/aquamart/dispatch/pkg/models"
)

const (
	RoleRequester = "requester"
	RoleProvider  = "provider"
)

type Handler struct {
	registry  *registry.Service
	ledger    *ledger.Service
	arbiter   *arbiter.Service
	lifecycle *lifecycle.Service
	hub       *ws.Hub
	notifier  *notify.Client
	logger    *logrus.Logger
	health    func() error
}

func NewHandler(reg *registry.Service, led *ledger.Service, arb *arbiter.Service, lc *lifecycle.Service, logger *logrus.Logger) *Handler {
	return &Handler{
		registry:  reg,
		ledger:    led,
		arbiter:   arb,
		lifecycle: lc,
		logger:    logger,
	}
}

func (h *Handler) SetHub(hub *ws.Hub)                { h.hub = hub }
func (h *Handler) SetNotifier(n *notify.Client)      { h.notifier = n }
func (h *Handler) SetHealthCheck(check func() error) { h.health = check }

func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	router.HandleFunc("/carts/{requesterId}", h.SaveCart).Methods("PUT")
	router.HandleFunc("/carts/{requesterId}", h.GetCart).Methods("GET")

	router.HandleFunc("/requests/open", h.ListOpenRequests).Methods("GET")
	router.HandleFunc("/requests", h.CreateRequest).Methods("POST")
	router.HandleFunc("/requests/{id}", h.GetRequest).Methods("GET")
	router.HandleFunc("/requests/{id}", h.CancelRequest).Methods("DELETE")
	router.HandleFunc("/requests/{id}/quotes", h.SubmitQuote).Methods("POST")
	router.HandleFunc("/requests/{id}/quotes", h.ListQuotes).Methods("GET")
	router.HandleFunc("/requests/{id}/quotes/{quoteId}/accept", h.AcceptQuote).Methods("POST")

	router.HandleFunc("/orders", h.ListOrders).Methods("GET")
	router.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	router.HandleFunc("/orders/{id}/advance", h.AdvanceOrder).Methods("POST")
	router.HandleFunc("/orders/{id}/confirm", h.ConfirmDelivery).Methods("POST")
	router.HandleFunc("/orders/{id}/cancel", h.CancelOrder).Methods("POST")

	router.HandleFunc("/ws/orders/{id}", h.TrackOrder).Methods("GET")

	router.Use(loggingMiddleware(h.logger))
	return router
}

// Identity comes from headers the auth gateway stamps after token
// validation; this service only enforces ownership and role.
func caller(r *http.Request) (id, role string) {
	return r.Header.Get("X-User-ID"), r.Header.Get("X-User-Role")
}

type cartPayload struct {
	Items []models.CartItem `json:"items"`
}

func (h *Handler) SaveCart(w http.ResponseWriter, r *http.Request) {
	requesterID := mux.Vars(r)["requesterId"]
	actorID, _ := caller(r)
	if actorID != requesterID {
		h.respondWithDomainError(w, models.ErrForbidden)
		return
	}

	var payload cartPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cart, err := h.registry.SaveCart(r.Context(), requesterID, payload.Items)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, cart)
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	requesterID := mux.Vars(r)["requesterId"]
	actorID, _ := caller(r)
	if actorID != requesterID {
		h.respondWithDomainError(w, models.ErrForbidden)
		return
	}

	cart, err := h.registry.GetCart(r.Context(), requesterID)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, cart)
}

type createRequestPayload struct {
	Items        []models.CartItem `json:"items"`
	Destination  models.Address    `json:"destination"`
	Instructions string            `json:"instructions"`
	TTLSeconds   int               `json:"ttl_seconds"`
}

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actorID, _ := caller(r)
	if actorID == "" {
		h.respondWithDomainError(w, models.ErrForbidden)
		return
	}

	var payload createRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req, err := h.registry.CreateRequest(r.Context(), actorID, payload.Items,
		payload.Destination, payload.Instructions, time.Duration(payload.TTLSeconds)*time.Second)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, req)
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	actorID, role := caller(r)
	req, err := h.registry.GetRequest(r.Context(), mux.Vars(r)["id"], actorID, role)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, req)
}

func (h *Handler) ListOpenRequests(w http.ResponseWriter, r *http.Request) {
	_, role := caller(r)
	if role != RoleProvider {
		h.respondWithDomainError(w, models.ErrForbidden)
		return
	}

	var coverage []string
	if cities := r.URL.Query().Get("cities"); cities != "" {
		coverage = strings.Split(cities, ",")
	}

	requests, err := h.registry.ListOpenForProvider(r.Context(), coverage)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"requests": requests,
		"count":    len(requests),
	})
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	actorID, _ := caller(r)
	req, err := h.registry.Cancel(r.Context(), mux.Vars(r)["id"], actorID)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, req)
}

type submitQuotePayload struct {
	ProviderName  string  `json:"provider_name"`
	ProviderPhone string  `json:"provider_phone"`
	Fee           float64 `json:"fee"`
	ETAMinutes    int     `json:"eta_minutes"`
	Notes         string  `json:"notes"`
	TTLSeconds    int     `json:"ttl_seconds"`
}

func (h *Handler) SubmitQuote(w http.ResponseWriter, r *http.Request) {
	actorID, role := caller(r)
	if role != RoleProvider {
		h.respondWithDomainError(w, models.ErrForbidden)
		return
	}

	var payload submitQuotePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	quote, err := h.ledger.SubmitQuote(r.Context(), ledger.SubmitInput{
		RequestID:     mux.Vars(r)["id"],
		ProviderID:    actorID,
		ProviderName:  payload.ProviderName,
		ProviderPhone: payload.ProviderPhone,
		Fee:           payload.Fee,
		ETAMinutes:    payload.ETAMinutes,
		Notes:         payload.Notes,
		TTL:           time.Duration(payload.TTLSeconds) * time.Second,
	})
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, quote)
}

func (h *Handler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	actorID, role := caller(r)
	quotes, err := h.ledger.ListQuotes(r.Context(), mux.Vars(r)["id"], actorID, role)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"quotes":  quotes,
		"count":   len(quotes),
		"summary": ledger.Summarize(quotes),
	})
}

func (h *Handler) AcceptQuote(w http.ResponseWriter, r *http.Request) {
	actorID, _ := caller(r)
	vars := mux.Vars(r)

	order, err := h.arbiter.AcceptQuote(r.Context(), vars["id"], vars["quoteId"], actorID)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}

	h.broadcast(order)
	h.respondWithJSON(w, http.StatusCreated, order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actorID, _ := caller(r)
	order, err := h.lifecycle.GetOrder(r.Context(), mux.Vars(r)["id"], actorID)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	actorID, role := caller(r)
	if role != RoleProvider {
		h.respondWithDomainError(w, models.ErrForbidden)
		return
	}

	orders, err := h.lifecycle.ListOrdersForProvider(r.Context(), actorID)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

type advancePayload struct {
	Target models.OrderState `json:"target"`
}

func (h *Handler) AdvanceOrder(w http.ResponseWriter, r *http.Request) {
	actorID, _ := caller(r)

	var payload advancePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.lifecycle.Advance(r.Context(), mux.Vars(r)["id"], payload.Target, actorID)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}

	h.broadcast(order)
	h.respondWithJSON(w, http.StatusOK, order)
}

type confirmPayload struct {
	Code     string `json:"code"`
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback"`
}

func (h *Handler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	actorID, _ := caller(r)

	var payload confirmPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.lifecycle.ConfirmDelivery(r.Context(), mux.Vars(r)["id"],
		actorID, payload.Code, payload.Rating, payload.Feedback)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}

	h.broadcast(order)
	if h.notifier != nil {
		notice := notify.DeliveryNotice{
			OrderID:     order.ID,
			RequesterID: order.RequesterID,
			Status:      order.Status,
			DeliveredAt: order.DeliveredAt,
		}
		go h.notifier.NotifyOrderStatus(notice)
	}

	h.respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	actorID, _ := caller(r)
	order, err := h.lifecycle.Cancel(r.Context(), mux.Vars(r)["id"], actorID)
	if err != nil {
		h.respondWithDomainError(w, err)
		return
	}

	h.broadcast(order)
	h.respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) TrackOrder(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Tracking not available")
		return
	}
	h.hub.HandleWebSocket(w, r, mux.Vars(r)["id"])
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(); err != nil {
			h.respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": "dispatch-service",
				"error":   err.Error(),
			})
			return
		}
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "dispatch-service",
	})
}

func (h *Handler) broadcast(order *models.Order) {
	if h.hub != nil {
		h.hub.Broadcast(order.ID, order.Status)
	}
}

func (h *Handler) respondWithDomainError(w http.ResponseWriter, err error) {
	code := statusForError(err)
	if code == http.StatusInternalServerError {
		h.logger.WithError(err).Error("Request failed")
		h.respondWithError(w, code, "Internal server error")
		return
	}
	h.respondWithError(w, code, err.Error())
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
