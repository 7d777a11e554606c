package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vodomat/wsm-core/internal/auth"
	"github.com/vodomat/wsm-core/internal/device"
	"github.com/vodomat/wsm-core/internal/store"
	"github.com/vodomat/wsm-core/internal/wsm"
)

// snapshotResponse is the common shape for cached device reads.
type snapshotResponse struct {
	DeviceID   string         `json:"device_id"`
	Payload    map[string]any `json:"payload"`
	ReceivedAt time.Time      `json:"received_at"`
	Source     string         `json:"source"`
}

// resolveSnapshot applies the freshness rule across both read tiers:
// the in-memory session snapshot first, then the latest stored row,
// which covers reads right after a restart when sessions are empty.
// Anything older than the freshness window counts as absent.
func (s *Server) resolveSnapshot(deviceID string,
	fromSession func(*device.Session) device.Snapshot,
	fromStore func() (map[string]any, time.Time, error),
) (snapshotResponse, bool) {
	now := s.now()

	if sess, ok := s.registry.Get(deviceID); ok {
		snap := fromSession(sess)
		if snap.Fresh(now) {
			return snapshotResponse{
				DeviceID:   deviceID,
				Payload:    snap.Payload,
				ReceivedAt: snap.ReceivedAt,
				Source:     "session",
			}, true
		}
	}

	payload, created, err := fromStore()
	if err != nil {
		return snapshotResponse{}, false
	}
	if now.Sub(created) >= device.FreshnessWindow {
		return snapshotResponse{}, false
	}
	return snapshotResponse{
		DeviceID:   deviceID,
		Payload:    payload,
		ReceivedAt: created,
		Source:     "store",
	}, true
}

// recordMap flattens a store record into the generic payload shape.
func recordMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	delete(m, "id")
	delete(m, "device_id")
	delete(m, "created")
	return m, nil
}

// requireAdmin rejects the request unless the token carries the admin role.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := claimsFrom(r.Context())
	if !ok || claims.Role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "admin role required")
		return false
	}
	return true
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	defer io.Copy(io.Discard, r.Body) //nolint:errcheck
	return json.NewDecoder(r.Body).Decode(v)
}

// dispatchError maps dispatcher errors onto HTTP responses.
func dispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wsm.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, wsm.ErrInvalidPour):
		writeBadRequest(w, "invalid pour command")
	case errors.Is(err, store.ErrNotFound):
		writeNotFound(w, "record not found")
	default:
		writeInternalError(w, "command dispatch failed")
	}
}

type deviceResponse struct {
	ID       string    `json:"id"`
	LastSeen time.Time `json:"last_seen"`
	Online   bool      `json:"online"`
}

func (s *Server) deviceResponse(d store.Device) deviceResponse {
	lastSeen := d.LastSeen
	if sess, ok := s.registry.Get(d.ID); ok && sess.LastSeen().After(lastSeen) {
		lastSeen = sess.LastSeen()
	}
	return deviceResponse{
		ID:       d.ID,
		LastSeen: lastSeen,
		Online:   s.now().Sub(lastSeen) < device.FreshnessWindow,
	}
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeInternalError(w, "listing devices failed")
		return
	}

	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, s.deviceResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("getting device", "device_id", id, "error", err)
		writeInternalError(w, "getting device failed")
		return
	}
	writeJSON(w, http.StatusOK, s.deviceResponse(*d))
}

func (s *Server) handleSetProviderKey(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	id := chi.URLParam(r, "id")

	var body struct {
		Key string `json:"key"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	if err := s.store.SetProviderKey(r.Context(), id, body.Key); err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("setting provider key", "device_id", id, "error", err)
		writeInternalError(w, "setting provider key failed")
		return
	}

	if sess, ok := s.registry.Get(id); ok {
		sess.SetProviderKey(body.Key)
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	resp, ok := s.resolveSnapshot(id,
		func(sess *device.Session) device.Snapshot { return sess.State() },
		func() (map[string]any, time.Time, error) {
			rec, err := s.store.LatestState(r.Context(), id)
			if err != nil {
				return nil, time.Time{}, err
			}
			m, err := recordMap(rec)
			return m, rec.Created, err
		})
	if !ok {
		writeNotFound(w, "state outdated or not received yet")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	resp, ok := s.resolveSnapshot(id,
		func(sess *device.Session) device.Snapshot { return sess.Settings() },
		func() (map[string]any, time.Time, error) {
			rec, err := s.store.LatestSettings(r.Context(), id)
			if err != nil {
				return nil, time.Time{}, err
			}
			m, err := recordMap(rec)
			return m, rec.Created, err
		})
	if !ok {
		writeNotFound(w, "settings outdated or not received yet")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var update wsm.SettingsUpdate
	if err := decodeBody(r, &update); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	if err := s.disp.UpdateSettings(r.Context(), id, update); err != nil {
		dispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

func (s *Server) handleRequestSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.disp.RequestSettings(r.Context(), chi.URLParam(r, "id")); err != nil {
		dispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	resp, ok := s.resolveSnapshot(id,
		func(sess *device.Session) device.Snapshot { return sess.Config() },
		func() (map[string]any, time.Time, error) {
			rec, err := s.store.LatestConfig(r.Context(), id)
			if err != nil {
				return nil, time.Time{}, err
			}
			m, err := recordMap(rec)
			return m, rec.Created, err
		})
	if !ok {
		writeNotFound(w, "config outdated or not received yet")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	id := chi.URLParam(r, "id")

	var update wsm.ConfigUpdate
	if err := decodeBody(r, &update); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	if err := s.disp.UpdateConfig(r.Context(), id, update); err != nil {
		dispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

func (s *Server) handleRequestConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.disp.RequestConfig(r.Context(), chi.URLParam(r, "id")); err != nil {
		dispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	id := chi.URLParam(r, "id")

	var body struct {
		Delay int `json:"delay"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &body); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
	}

	if err := s.disp.Reboot(r.Context(), id, body.Delay); err != nil {
		dispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

func (s *Server) handleGetDisplay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	resp, ok := s.resolveSnapshot(id,
		func(sess *device.Session) device.Snapshot { return sess.Display() },
		func() (map[string]any, time.Time, error) {
			rec, err := s.store.LatestDisplay(r.Context(), id)
			if err != nil {
				return nil, time.Time{}, err
			}
			m, err := recordMap(rec)
			return m, rec.Created, err
		})
	if !ok {
		writeNotFound(w, "display outdated or not received yet")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRequestDisplay(w http.ResponseWriter, r *http.Request) {
	if err := s.disp.RequestDisplay(r.Context(), chi.URLParam(r, "id")); err != nil {
		dispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

type denominationResponse struct {
	Kind       string    `json:"kind"`
	Amount     int       `json:"amount"`
	ReceivedAt time.Time `json:"received_at"`
}

func (s *Server) handleListDenominations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, ok := s.registry.Get(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	denoms := sess.Denominations()
	out := make([]denominationResponse, 0, len(denoms))
	for _, d := range denoms {
		out = append(out, denominationResponse{Kind: d.Kind, Amount: d.Amount, ReceivedAt: d.ReceivedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleQRCodePayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		OrderID string `json:"order_id"`
		Amount  int    `json:"amount"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if body.Amount <= 0 {
		writeBadRequest(w, "amount must be positive")
		return
	}

	if err := s.disp.SendQRCodePayment(r.Context(), id, body.OrderID, body.Amount); err != nil {
		dispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

func (s *Server) handleFreePayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Amount int `json:"amount"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if body.Amount <= 0 {
		writeBadRequest(w, "amount must be positive")
		return
	}

	if err := s.disp.SendFreePayment(r.Context(), id, body.Amount); err != nil {
		dispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

func (s *Server) handleClearPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var flags *wsm.ClearFlags
	if r.ContentLength > 0 {
		flags = &wsm.ClearFlags{}
		if err := decodeBody(r, flags); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
	}

	if err := s.disp.ClearPayment(r.Context(), id, flags); err != nil {
		dispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

func (s *Server) handleSendAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var action wsm.Action
	if err := decodeBody(r, &action); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	if err := s.disp.SendAction(r.Context(), id, action); err != nil {
		dispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

type ackResponse struct {
	Code       int       `json:"code"`
	Message    string    `json:"message,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// handleAckRead serves an ack slot. Slots live only in the session:
// they are cleared when a new command is dispatched, which the durable
// history cannot express, so there is no store fallback here.
func (s *Server) handleAckRead(w http.ResponseWriter, r *http.Request, kind string) {
	id := chi.URLParam(r, "id")

	sess, ok := s.registry.Get(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	ack, ok := sess.Ack(kind)
	if !ok || !ack.Fresh(s.now()) {
		writeNotFound(w, "no acknowledgment received yet")
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{
		Code:       ack.Code,
		Message:    ack.Message,
		ReceivedAt: ack.ReceivedAt,
	})
}

func (s *Server) handleGetSettingsAck(w http.ResponseWriter, r *http.Request) {
	s.handleAckRead(w, r, device.AckSetting)
}

func (s *Server) handleGetConfigAck(w http.ResponseWriter, r *http.Request) {
	s.handleAckRead(w, r, device.AckConfig)
}

func (s *Server) handleGetRebootAck(w http.ResponseWriter, r *http.Request) {
	s.handleAckRead(w, r, device.AckReboot)
}

func (s *Server) handleGetPaymentAck(w http.ResponseWriter, r *http.Request) {
	s.handleAckRead(w, r, device.AckPayment)
}

func (s *Server) handleGetActionAck(w http.ResponseWriter, r *http.Request) {
	s.handleAckRead(w, r, device.AckAction)
}
