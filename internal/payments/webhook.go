package payments

import (
	"net/http"

	httputil "carrental/pkg/http"
	"carrental/pkg/logger"
	"carrental/pkg/middleware"
	"carrental/pkg/model"

	"github.com/julienschmidt/httprouter"
)

const ConfirmationsPath = "/api/v1/payments/confirmations"

type WebhookHandler struct {
	confirmer *Confirmer
	secret    string
	log       *logger.Logger
}

func NewWebhookHandler(confirmer *Confirmer, secret string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		confirmer: confirmer,
		secret:    secret,
		log:       log,
	}
}

func (h *WebhookHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var p model.PaymentConfirmation
	if err := httputil.DecodeJSON(r, &p); err != nil {
		h.writeError(w, err)
		return
	}

	booking, err := h.confirmer.Confirm(r.Context(), &p)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := httputil.WriteSuccess(w, booking); err != nil {
		h.log.Error("failed to write success response", "handler", "Confirm", "operation", "WriteSuccess", "error", err)
	}
}

func (h *WebhookHandler) writeError(w http.ResponseWriter, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", "Confirm", "operation", "WriteError", "error", writeErr)
	}
}

// RegisterRoutes mounts the webhook behind signature verification. Without a
// secret the route is not exposed at all.
func (h *WebhookHandler) RegisterRoutes(router *httprouter.Router) {
	if h.secret == "" {
		h.log.Warn("PAYMENT_WEBHOOK_SECRET not set, payment webhook disabled")
		return
	}
	verify := middleware.PaymentSignatureVerification(h.secret, h.log)
	router.Handler(http.MethodPost, ConfirmationsPath, verify(http.HandlerFunc(h.Confirm)))
}
