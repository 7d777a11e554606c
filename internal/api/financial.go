package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// listLimit parses the ?limit= query parameter. Zero means the store
// default.
func listLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func externalID(r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "externalID"))
	return n, err == nil
}

func (s *Server) handleListSales(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sales, err := s.store.ListSales(r.Context(), id, listLimit(r))
	if err != nil {
		s.logger.Error("listing sales", "device_id", id, "error", err)
		writeInternalError(w, "listing sales failed")
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

// handleResendSaleAck republishes the acknowledgment for a stored sale.
// Used when the original ack publish failed and the device has given up
// retransmitting.
func (s *Server) handleResendSaleAck(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	id := chi.URLParam(r, "id")

	extID, ok := externalID(r)
	if !ok {
		writeBadRequest(w, "external id must be an integer")
		return
	}

	if err := s.disp.SendSaleAck(r.Context(), id, extID); err != nil {
		dispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ack_sent"})
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cols, err := s.store.ListCollections(r.Context(), id, listLimit(r))
	if err != nil {
		s.logger.Error("listing collections", "device_id", id, "error", err)
		writeInternalError(w, "listing collections failed")
		return
	}
	writeJSON(w, http.StatusOK, cols)
}

func (s *Server) handleResendCollectionAck(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	id := chi.URLParam(r, "id")

	extID, ok := externalID(r)
	if !ok {
		writeBadRequest(w, "external id must be an integer")
		return
	}

	if err := s.disp.SendCollectionAck(r.Context(), id, extID); err != nil {
		dispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ack_sent"})
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	payments, err := s.store.ListPayments(r.Context(), id, listLimit(r))
	if err != nil {
		s.logger.Error("listing payments", "device_id", id, "error", err)
		writeInternalError(w, "listing payments failed")
		return
	}
	writeJSON(w, http.StatusOK, payments)
}
