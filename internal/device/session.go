package device

import (
	"sync"
	"time"
)

// FreshnessWindow is how long a cached device report stays usable.
// Reports older than this are treated as absent and callers must
// re-request them from the device.
const FreshnessWindow = 60 * time.Second

// DefaultRequestID is used when a device has never reported a
// request_id for a given domain.
const DefaultRequestID = 234

// Ack slot kinds. One slot per command domain; a new ack overwrites
// the previous one for the same kind.
const (
	AckSetting = "setting"
	AckConfig  = "config"
	AckReboot  = "reboot"
	AckPayment = "payment"
	AckAction  = "action"
)

// Snapshot holds the most recent report of one kind from a device.
//
// ReceivedAt is the freshness anchor: a zero time means "never received
// or explicitly invalidated". Payload keys mirror the device's JSON.
type Snapshot struct {
	Payload    map[string]any
	RequestID  int
	ReceivedAt time.Time
}

// Fresh reports whether the snapshot was received within the freshness
// window as of now.
func (s Snapshot) Fresh(now time.Time) bool {
	if s.ReceivedAt.IsZero() {
		return false
	}
	return now.Sub(s.ReceivedAt) < FreshnessWindow
}

// AckRecord holds the most recent acknowledgment for one command kind.
type AckRecord struct {
	Code       int
	Message    string
	Payload    map[string]any
	ReceivedAt time.Time
}

// Fresh reports whether the ack was received within the freshness window.
func (a AckRecord) Fresh(now time.Time) bool {
	if a.ReceivedAt.IsZero() {
		return false
	}
	return now.Sub(a.ReceivedAt) < FreshnessWindow
}

// Denomination is one accepted coin or bill event reported by a device.
type Denomination struct {
	Kind       string // "coin" or "bill"
	Amount     int
	ReceivedAt time.Time
}

// maxDenominationHistory caps the in-memory denomination ring.
// Older events are persisted; this buffer only feeds the live API view.
const maxDenominationHistory = 100

// Session is the in-memory working state for one device.
//
// It caches the latest report of each kind so API reads can be served
// without touching the database, and tracks per-command ack slots for
// command/ack correlation.
//
// All methods are safe for concurrent use.
type Session struct {
	id string

	mu sync.Mutex

	lastSeen    time.Time
	providerKey string

	settings Snapshot
	config   Snapshot
	state    Snapshot
	display  Snapshot

	acks map[string]AckRecord

	denominations []Denomination
}

func newSession(id string) *Session {
	return &Session{
		id:   id,
		acks: make(map[string]AckRecord),
	}
}

// ID returns the device identifier.
func (s *Session) ID() string {
	return s.id
}

// Touch records that the device was heard from.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// LastSeen returns when the device was last heard from.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// SetProviderKey stores the payment provider API key for this device.
func (s *Session) SetProviderKey(key string) {
	s.mu.Lock()
	s.providerKey = key
	s.mu.Unlock()
}

// ProviderKey returns the payment provider API key, if set.
func (s *Session) ProviderKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.providerKey
}

// SetSettings replaces the settings snapshot with a fresh report.
func (s *Session) SetSettings(payload map[string]any, requestID int, now time.Time) {
	s.mu.Lock()
	s.settings = Snapshot{Payload: copyPayload(payload), RequestID: requestID, ReceivedAt: now}
	s.mu.Unlock()
}

// Settings returns a copy of the settings snapshot.
func (s *Session) Settings() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySnapshot(s.settings)
}

// ResetSettings invalidates the settings snapshot so the next read
// must wait for a new report. Called when a settings request is sent.
func (s *Session) ResetSettings() {
	s.mu.Lock()
	s.settings.ReceivedAt = time.Time{}
	s.mu.Unlock()
}

// SetConfig replaces the config snapshot with a fresh report.
func (s *Session) SetConfig(payload map[string]any, requestID int, now time.Time) {
	s.mu.Lock()
	s.config = Snapshot{Payload: copyPayload(payload), RequestID: requestID, ReceivedAt: now}
	s.mu.Unlock()
}

// Config returns a copy of the config snapshot.
func (s *Session) Config() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySnapshot(s.config)
}

// ResetConfig invalidates the config snapshot.
func (s *Session) ResetConfig() {
	s.mu.Lock()
	s.config.ReceivedAt = time.Time{}
	s.mu.Unlock()
}

// SetState replaces the state snapshot with a fresh report.
func (s *Session) SetState(payload map[string]any, requestID int, now time.Time) {
	s.mu.Lock()
	s.state = Snapshot{Payload: copyPayload(payload), RequestID: requestID, ReceivedAt: now}
	s.mu.Unlock()
}

// State returns a copy of the state snapshot.
func (s *Session) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySnapshot(s.state)
}

// SetDisplay replaces the display snapshot with a fresh report.
func (s *Session) SetDisplay(payload map[string]any, now time.Time) {
	s.mu.Lock()
	s.display = Snapshot{Payload: copyPayload(payload), ReceivedAt: now}
	s.mu.Unlock()
}

// Display returns a copy of the display snapshot.
func (s *Session) Display() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySnapshot(s.display)
}

// ResetDisplay invalidates the display snapshot.
func (s *Session) ResetDisplay() {
	s.mu.Lock()
	s.display.ReceivedAt = time.Time{}
	s.mu.Unlock()
}

// SetAck stores the acknowledgment for a command kind, replacing any
// previous ack in the same slot.
func (s *Session) SetAck(kind string, ack AckRecord) {
	s.mu.Lock()
	ack.Payload = copyPayload(ack.Payload)
	s.acks[kind] = ack
	s.mu.Unlock()
}

// Ack returns the acknowledgment for a command kind, if any.
func (s *Session) Ack(kind string) (AckRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ack, ok := s.acks[kind]
	if !ok {
		return AckRecord{}, false
	}
	ack.Payload = copyPayload(ack.Payload)
	return ack, true
}

// ClearAck empties the ack slot for a command kind. Called before a
// new command is dispatched so a stale ack cannot satisfy a poll for
// the new command's result.
func (s *Session) ClearAck(kind string) {
	s.mu.Lock()
	delete(s.acks, kind)
	s.mu.Unlock()
}

// SettingsRequestID returns the request_id to use for the next
// settings command: the one carried from the device's last report,
// or DefaultRequestID if there has been no exchange.
func (s *Session) SettingsRequestID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings.RequestID == 0 {
		return DefaultRequestID
	}
	return s.settings.RequestID
}

// ConfigRequestID returns the request_id to use for the next config
// command.
func (s *Session) ConfigRequestID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config.RequestID == 0 {
		return DefaultRequestID
	}
	return s.config.RequestID
}

// AddDenomination appends an accepted coin/bill event to the in-memory
// history. The buffer is capped; oldest entries fall off.
func (s *Session) AddDenomination(d Denomination) {
	s.mu.Lock()
	s.denominations = append(s.denominations, d)
	if len(s.denominations) > maxDenominationHistory {
		s.denominations = s.denominations[len(s.denominations)-maxDenominationHistory:]
	}
	s.mu.Unlock()
}

// Denominations returns a copy of the in-memory denomination history,
// newest last.
func (s *Session) Denominations() []Denomination {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Denomination, len(s.denominations))
	copy(out, s.denominations)
	return out
}

// copyPayload returns a shallow copy of a payload map.
// Values are JSON scalars or arrays; callers must not mutate nested slices.
func copyPayload(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copySnapshot(s Snapshot) Snapshot {
	s.Payload = copyPayload(s.Payload)
	return s
}
