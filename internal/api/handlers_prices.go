package api

import (
	"context"
	"net/http"
	"time"
)

// handleGetPrices handles GET /api/prices
func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.priceService.Prices(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, prices)
}

// handleHealth reports dependency reachability and breaker states
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = "unhealthy"
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]interface{}{
		"status":       status,
		"service":      "pair-tracker",
		"dependencies": deps,
	}
	if s.breakers != nil {
		body["circuitBreakers"] = s.breakers.GetAllStats()
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, body)
}
