package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/stagllc/staginfra/internal/services"
	pkghttp "github.com/stagllc/staginfra/pkg/http"
)

// CostHandler serves infrastructure cost estimates. It keeps the most
// recently submitted component list so a GET returns the estimate for the
// last configuration posted.
type CostHandler struct {
	pricing *services.PricingService

	mu         sync.RWMutex
	components []services.CostComponent
}

// NewCostHandler creates a new CostHandler
func NewCostHandler(pricing *services.PricingService) *CostHandler {
	return &CostHandler{pricing: pricing}
}

// CostEstimateRequest represents the request body for a cost estimate
type CostEstimateRequest struct {
	Components []services.CostComponent `json:"components" validate:"required,dive"`
}

// CostEstimateResponse represents a computed monthly estimate
type CostEstimateResponse struct {
	MonthlyCost float64                  `json:"monthly_cost"`
	Currency    string                   `json:"currency"`
	Components  []services.CostComponent `json:"components"`
}

// EstimateCost computes the monthly cost of a submitted component list and
// remembers it for subsequent GETs.
func (h *CostHandler) EstimateCost(w http.ResponseWriter, r *http.Request) {
	var req CostEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if req.Components == nil {
		pkghttp.WriteBadRequest(w, "components is required")
		return
	}

	cost := h.pricing.EstimateMonthlyCost(req.Components)

	h.mu.Lock()
	h.components = req.Components
	h.mu.Unlock()

	pkghttp.WriteJSON(w, http.StatusOK, CostEstimateResponse{
		MonthlyCost: cost,
		Currency:    "USD",
		Components:  req.Components,
	})
}

// GetEstimate returns the estimate for the last submitted configuration.
func (h *CostHandler) GetEstimate(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	components := h.components
	h.mu.RUnlock()

	if components == nil {
		components = []services.CostComponent{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, CostEstimateResponse{
		MonthlyCost: h.pricing.EstimateMonthlyCost(components),
		Currency:    "USD",
		Components:  components,
	})
}
