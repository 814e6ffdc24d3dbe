package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/stagepass/checkout/internal/flow"
	"github.com/stagepass/checkout/internal/payment"
	"github.com/stagepass/checkout/internal/reservation"
	"github.com/stagepass/checkout/pkg/auth"
	"github.com/stagepass/checkout/pkg/config"
	"github.com/stagepass/checkout/pkg/events"
	"github.com/stagepass/checkout/pkg/logger"
	"github.com/stagepass/checkout/internal/http/response"
)

type contextKey string

const claimsKey contextKey = "claims"

type Handlers struct {
	svc     *flow.Service
	monitor payment.PopupMonitor
	bus     events.Publisher
	config  *config.Config
}

func New(svc *flow.Service, monitor payment.PopupMonitor, bus events.Publisher, cfg *config.Config) *Handlers {
	return &Handlers{
		svc:     svc,
		monitor: monitor,
		bus:     bus,
		config:  cfg,
	}
}

// RequireJWT authenticates the buyer. The token is taken from the
// Authorization header, or from the access_token query parameter for
// beacon-style requests that cannot set headers.
func (h *Handlers) RequireJWT(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("Authorization")
			if strings.HasPrefix(token, "Bearer ") {
				token = strings.TrimPrefix(token, "Bearer ")
			} else {
				token = r.URL.Query().Get("access_token")
			}

			if token == "" {
				response.Unauthorized(w, "Missing authorization token")
				return
			}

			claims, err := auth.Parse(token, h.config.Auth.JWTSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid token")
				return
			}

			if requiredRole != "" && claims.Role != requiredRole && claims.Role != "admin" {
				response.Forbidden(w, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), logger.BuyerIDKey, claims.Sub)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func buyerFromContext(ctx context.Context) (reservation.Buyer, string, bool) {
	claims, ok := ctx.Value(claimsKey).(*auth.Claims)
	if !ok {
		return reservation.Buyer{}, "", false
	}
	return reservation.Buyer{ID: claims.Sub, Name: claims.Name}, claims.Email, true
}
