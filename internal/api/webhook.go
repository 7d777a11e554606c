package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vodomat/wsm-core/internal/store"
)

// handleProviderWebhook receives a completed-payment callback from the
// payment provider and credits the device. The provider retries on
// non-2xx, so transient dispatch failures return 500 to trigger a
// retry while permanent ones (unknown device, bad amount) do not.
func (s *Server) handleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	orderID := chi.URLParam(r, "orderID")

	amount, err := strconv.Atoi(chi.URLParam(r, "amount"))
	if err != nil || amount <= 0 {
		writeBadRequest(w, "amount must be a positive integer")
		return
	}

	dev, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("webhook device lookup", "device_id", id, "error", err)
		writeInternalError(w, "device lookup failed")
		return
	}

	if dev.ProviderAPIKey != "" && r.URL.Query().Get("key") != dev.ProviderAPIKey {
		writeUnauthorized(w, "invalid provider key")
		return
	}

	if err := s.disp.SendQRCodePayment(r.Context(), id, orderID, amount); err != nil {
		s.logger.Error("webhook payment dispatch",
			"device_id", id, "order_id", orderID, "amount", amount, "error", err)
		dispatchError(w, err)
		return
	}

	s.logger.Info("provider payment accepted",
		"device_id", id, "order_id", orderID, "amount", amount)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
