package device

import (
	"testing"
	"time"
)

func TestSnapshotFresh(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		receivedAt time.Time
		want       bool
	}{
		{
			name:       "never received",
			receivedAt: time.Time{},
			want:       false,
		},
		{
			name:       "just received",
			receivedAt: now,
			want:       true,
		},
		{
			name:       "within window",
			receivedAt: now.Add(-FreshnessWindow + time.Second),
			want:       true,
		},
		{
			name:       "exactly at window",
			receivedAt: now.Add(-FreshnessWindow),
			want:       false,
		},
		{
			name:       "past window",
			receivedAt: now.Add(-2 * FreshnessWindow),
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := Snapshot{ReceivedAt: tt.receivedAt}
			if got := snap.Fresh(now); got != tt.want {
				t.Errorf("Fresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionSnapshots(t *testing.T) {
	s := newSession("wsm-0042")
	now := time.Now()

	s.SetSettings(map[string]any{"maxPayment": 1000}, 17, now)

	snap := s.Settings()
	if !snap.Fresh(now) {
		t.Error("settings should be fresh after SetSettings")
	}
	if snap.RequestID != 17 {
		t.Errorf("RequestID = %d, want 17", snap.RequestID)
	}
	if got := snap.Payload["maxPayment"]; got != 1000 {
		t.Errorf("maxPayment = %v, want 1000", got)
	}

	// Returned payload is a copy; mutating it must not affect the session.
	snap.Payload["maxPayment"] = 9999
	if got := s.Settings().Payload["maxPayment"]; got != 1000 {
		t.Errorf("session payload mutated through copy: maxPayment = %v", got)
	}

	s.ResetSettings()
	if s.Settings().Fresh(now) {
		t.Error("settings should be stale after ResetSettings")
	}
}

func TestSessionAckSlots(t *testing.T) {
	s := newSession("wsm-0042")
	now := time.Now()

	if _, ok := s.Ack(AckSetting); ok {
		t.Fatal("new session should have no acks")
	}

	s.SetAck(AckSetting, AckRecord{Code: 0, Message: "ok", ReceivedAt: now})

	ack, ok := s.Ack(AckSetting)
	if !ok {
		t.Fatal("expected setting ack")
	}
	if ack.Code != 0 || ack.Message != "ok" {
		t.Errorf("ack = %+v", ack)
	}

	// Slots are independent.
	if _, ok := s.Ack(AckConfig); ok {
		t.Error("config slot should be empty")
	}

	s.ClearAck(AckSetting)
	if _, ok := s.Ack(AckSetting); ok {
		t.Error("setting slot should be empty after ClearAck")
	}
}

func TestSessionRequestIDCarryover(t *testing.T) {
	s := newSession("wsm-0042")

	if got := s.SettingsRequestID(); got != DefaultRequestID {
		t.Errorf("SettingsRequestID() = %d, want %d before any exchange", got, DefaultRequestID)
	}
	if got := s.ConfigRequestID(); got != DefaultRequestID {
		t.Errorf("ConfigRequestID() = %d, want %d before any exchange", got, DefaultRequestID)
	}

	now := time.Now()
	s.SetSettings(map[string]any{}, 42, now)
	s.SetConfig(map[string]any{}, 77, now)

	if got := s.SettingsRequestID(); got != 42 {
		t.Errorf("SettingsRequestID() = %d, want 42", got)
	}
	if got := s.ConfigRequestID(); got != 77 {
		t.Errorf("ConfigRequestID() = %d, want 77", got)
	}

	// Invalidation does not lose the carried request_id.
	s.ResetSettings()
	if got := s.SettingsRequestID(); got != 42 {
		t.Errorf("SettingsRequestID() = %d after reset, want 42", got)
	}
}

func TestSessionDenominationHistory(t *testing.T) {
	s := newSession("wsm-0042")
	now := time.Now()

	for i := 0; i < maxDenominationHistory+10; i++ {
		s.AddDenomination(Denomination{Kind: "coin", Amount: i, ReceivedAt: now})
	}

	got := s.Denominations()
	if len(got) != maxDenominationHistory {
		t.Fatalf("history length = %d, want %d", len(got), maxDenominationHistory)
	}

	// Oldest entries fall off; newest is last.
	if got[0].Amount != 10 {
		t.Errorf("oldest retained amount = %d, want 10", got[0].Amount)
	}
	if got[len(got)-1].Amount != maxDenominationHistory+9 {
		t.Errorf("newest amount = %d, want %d", got[len(got)-1].Amount, maxDenominationHistory+9)
	}
}

func TestSessionProviderKeyAndLastSeen(t *testing.T) {
	s := newSession("wsm-0042")

	if s.ProviderKey() != "" {
		t.Error("provider key should default to empty")
	}
	s.SetProviderKey("pk-123")
	if got := s.ProviderKey(); got != "pk-123" {
		t.Errorf("ProviderKey() = %q, want pk-123", got)
	}

	now := time.Now()
	s.Touch(now)
	if got := s.LastSeen(); !got.Equal(now) {
		t.Errorf("LastSeen() = %v, want %v", got, now)
	}
}
