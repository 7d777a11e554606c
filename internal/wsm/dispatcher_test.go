package wsm

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vodomat/wsm-core/internal/device"
	"github.com/vodomat/wsm-core/internal/infrastructure/database"
	"github.com/vodomat/wsm-core/internal/infrastructure/mqtt"
	"github.com/vodomat/wsm-core/internal/store"
	_ "github.com/vodomat/wsm-core/migrations"
)

type publishRecord struct {
	topic   string
	payload []byte
}

// fakePublisher records publishes in order.
type fakePublisher struct {
	mu      sync.Mutex
	records []publishRecord
	err     error
}

func (p *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	body := make([]byte, len(payload))
	copy(body, payload)
	p.records = append(p.records, publishRecord{topic: topic, payload: body})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

func (p *fakePublisher) byTopic(topic string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for _, r := range p.records {
		if r.topic == topic {
			out = append(out, r.payload)
		}
	}
	return out
}

func (p *fakePublisher) last(t *testing.T) publishRecord {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.records) == 0 {
		t.Fatal("no publishes recorded")
	}
	return p.records[len(p.records)-1]
}

func topicsForTest() mqtt.Topics {
	return mqtt.Topics{Root: "wsm"}
}

type testEnv struct {
	registry *device.Registry
	gw       *store.SQLiteGateway
	pub      *fakePublisher
	disp     *Dispatcher
	router   *Router
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	env := &testEnv{
		registry: device.NewRegistry(),
		gw:       store.NewSQLiteGateway(db.DB),
		pub:      &fakePublisher{},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	topics := topicsForTest()
	env.disp = NewDispatcher(env.registry, env.gw, env.pub, topics, 1)
	env.disp.now = func() time.Time { return env.now }

	env.router = NewRouter(env.registry, env.gw, env.disp, topics, 0)
	env.router.now = func() time.Time { return env.now }

	return env
}

// process feeds one inbound payload straight to the consumer.
func (e *testEnv) process(deviceID, suffix, payload string) {
	e.router.process(context.Background(), inboundMessage{
		deviceID: deviceID,
		suffix:   suffix,
		payload:  []byte(payload),
	})
}

func decodeBody(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decoding publish payload: %v", err)
	}
	return m
}

func TestDispatcherUnknownDevice(t *testing.T) {
	env := newTestEnv(t)

	err := env.disp.RequestSettings(context.Background(), "wsm-none")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("RequestSettings() error = %v, want ErrDeviceNotFound", err)
	}
	if env.pub.count() != 0 {
		t.Errorf("publishes = %d, want 0", env.pub.count())
	}
}

func TestDispatcherResolvesStoreKnownDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Device known to the store but absent from the registry, as after
	// a restart before the device's next report.
	if _, err := env.gw.GetOrCreateDevice(ctx, "wsm-0009", env.now); err != nil {
		t.Fatalf("GetOrCreateDevice() error = %v", err)
	}
	if err := env.gw.SetProviderKey(ctx, "wsm-0009", "key-xyz"); err != nil {
		t.Fatalf("SetProviderKey() error = %v", err)
	}

	if err := env.disp.SendQRCodePayment(ctx, "wsm-0009", "prov-9", 100); err != nil {
		t.Fatalf("SendQRCodePayment() error = %v", err)
	}

	sess, ok := env.registry.Get("wsm-0009")
	if !ok {
		t.Fatal("session not created from the device table")
	}
	if got := sess.ProviderKey(); got != "key-xyz" {
		t.Errorf("ProviderKey() = %q, want key-xyz", got)
	}
	if env.pub.count() != 1 {
		t.Errorf("publishes = %d, want 1", env.pub.count())
	}
}

func TestRequestSettings(t *testing.T) {
	env := newTestEnv(t)
	sess := env.registry.GetOrCreate("wsm-0001")
	sess.SetSettings(map[string]any{"maxPayment": float64(100)}, 42, env.now)
	sess.SetAck(device.AckSetting, device.AckRecord{Code: 0, ReceivedAt: env.now})

	if err := env.disp.RequestSettings(context.Background(), "wsm-0001"); err != nil {
		t.Fatalf("RequestSettings() error = %v", err)
	}

	// The cached snapshot and ack must be invalidated before the publish.
	if sess.Settings().Fresh(env.now) {
		t.Error("settings snapshot still fresh after request")
	}
	if _, ok := sess.Ack(device.AckSetting); ok {
		t.Error("setting ack slot not cleared")
	}

	rec := env.pub.last(t)
	if rec.topic != "wsm/wsm-0001/client/setting/get" {
		t.Errorf("topic = %q", rec.topic)
	}
	body := decodeBody(t, rec.payload)
	if body["request_id"] != float64(42) {
		t.Errorf("request_id = %v, want carried 42", body["request_id"])
	}
	if fields, ok := body["fields"].([]any); !ok || len(fields) != 0 {
		t.Errorf("fields = %v, want []", body["fields"])
	}
}

func TestRequestSettingsDefaultRequestID(t *testing.T) {
	env := newTestEnv(t)
	env.registry.GetOrCreate("wsm-0001")

	if err := env.disp.RequestSettings(context.Background(), "wsm-0001"); err != nil {
		t.Fatalf("RequestSettings() error = %v", err)
	}

	body := decodeBody(t, env.pub.last(t).payload)
	if body["request_id"] != float64(device.DefaultRequestID) {
		t.Errorf("request_id = %v, want %d", body["request_id"], device.DefaultRequestID)
	}
}

func TestUpdateSettings(t *testing.T) {
	env := newTestEnv(t)
	env.registry.GetOrCreate("wsm-0001")

	max := 5000
	if err := env.disp.UpdateSettings(context.Background(), "wsm-0001", SettingsUpdate{MaxPayment: &max}); err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}

	rec := env.pub.last(t)
	if rec.topic != "wsm/wsm-0001/client/setting/set" {
		t.Errorf("topic = %q", rec.topic)
	}
	body := decodeBody(t, rec.payload)
	if body["maxPayment"] != float64(5000) {
		t.Errorf("maxPayment = %v, want 5000", body["maxPayment"])
	}
	if body["spillAmount"] != float64(0) {
		t.Errorf("spillAmount = %v, want normalized 0", body["spillAmount"])
	}
}

func TestReboot(t *testing.T) {
	env := newTestEnv(t)
	env.registry.GetOrCreate("wsm-0001")

	if err := env.disp.Reboot(context.Background(), "wsm-0001", 0); err != nil {
		t.Fatalf("Reboot() error = %v", err)
	}
	body := decodeBody(t, env.pub.last(t).payload)
	if body["delay"] != float64(DefaultRebootDelay) {
		t.Errorf("delay = %v, want default %d", body["delay"], DefaultRebootDelay)
	}

	if err := env.disp.Reboot(context.Background(), "wsm-0001", 1500); err != nil {
		t.Fatalf("Reboot() error = %v", err)
	}
	body = decodeBody(t, env.pub.last(t).payload)
	if body["delay"] != float64(1500) {
		t.Errorf("delay = %v, want 1500", body["delay"])
	}
}

func TestSendQRCodePayment(t *testing.T) {
	env := newTestEnv(t)
	env.registry.GetOrCreate("wsm-0001")
	ctx := context.Background()

	if err := env.disp.SendQRCodePayment(ctx, "wsm-0001", "prov-123", 250); err != nil {
		t.Fatalf("SendQRCodePayment() error = %v", err)
	}

	rec := env.pub.last(t)
	if rec.topic != "wsm/wsm-0001/client/payment/set" {
		t.Errorf("topic = %q", rec.topic)
	}
	body := decodeBody(t, rec.payload)
	qr, ok := body["addQRcode"].(map[string]any)
	if !ok {
		t.Fatalf("addQRcode = %v", body["addQRcode"])
	}
	if qr["order_id"] != "prov-123" || qr["amount"] != float64(250) {
		t.Errorf("addQRcode = %v", qr)
	}

	// The payment is recorded pending before the publish.
	pending, err := env.gw.OldestPendingPayment(ctx, "wsm-0001")
	if err != nil {
		t.Fatalf("OldestPendingPayment() error = %v", err)
	}
	if pending.OrderID != "prov-123" || pending.Amount != 250 {
		t.Errorf("pending payment = %+v", pending)
	}
	if pending.PaymentType != store.PaymentTypeQR {
		t.Errorf("PaymentType = %q, want %q", pending.PaymentType, store.PaymentTypeQR)
	}
}

func TestSendQRCodePaymentGeneratesOrderID(t *testing.T) {
	env := newTestEnv(t)
	env.registry.GetOrCreate("wsm-0001")

	if err := env.disp.SendQRCodePayment(context.Background(), "wsm-0001", "", 100); err != nil {
		t.Fatalf("SendQRCodePayment() error = %v", err)
	}

	body := decodeBody(t, env.pub.last(t).payload)
	qr := body["addQRcode"].(map[string]any)
	orderID, _ := qr["order_id"].(string)
	if !strings.HasPrefix(orderID, "order_") {
		t.Errorf("order_id = %q, want generated order_ prefix", orderID)
	}
}

func TestSendFreePayment(t *testing.T) {
	env := newTestEnv(t)
	env.registry.GetOrCreate("wsm-0001")

	if err := env.disp.SendFreePayment(context.Background(), "wsm-0001", 50); err != nil {
		t.Fatalf("SendFreePayment() error = %v", err)
	}

	body := decodeBody(t, env.pub.last(t).payload)
	free, ok := body["addFree"].(map[string]any)
	if !ok || free["amount"] != float64(50) {
		t.Errorf("addFree = %v", body["addFree"])
	}
}

func TestClearPaymentDefaultsToAll(t *testing.T) {
	env := newTestEnv(t)
	env.registry.GetOrCreate("wsm-0001")

	if err := env.disp.ClearPayment(context.Background(), "wsm-0001", nil); err != nil {
		t.Fatalf("ClearPayment() error = %v", err)
	}

	body := decodeBody(t, env.pub.last(t).payload)
	for _, flag := range []string{"CoinClear", "BillClear", "PrevClear", "FreeClear", "QRcodeClear", "PayPassClear"} {
		if body[flag] != true {
			t.Errorf("%s = %v, want true", flag, body[flag])
		}
	}
}

func TestSendAction(t *testing.T) {
	env := newTestEnv(t)
	env.registry.GetOrCreate("wsm-0001")

	pour := "Pause"
	err := env.disp.SendAction(context.Background(), "wsm-0001", Action{Pour: &pour})
	if !errors.Is(err, ErrInvalidPour) {
		t.Errorf("SendAction(Pause) error = %v, want ErrInvalidPour", err)
	}

	pour = PourStart1
	if err := env.disp.SendAction(context.Background(), "wsm-0001", Action{Pour: &pour}); err != nil {
		t.Fatalf("SendAction() error = %v", err)
	}
	body := decodeBody(t, env.pub.last(t).payload)
	if body["Pour"] != "Start_1" {
		t.Errorf("Pour = %v", body["Pour"])
	}
	if _, present := body["Blocking"]; present {
		t.Error("Blocking should be omitted")
	}
}

func TestSendSaleAck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.disp.SendSaleAck(ctx, "wsm-0001", 17)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("SendSaleAck() for missing sale error = %v, want ErrNotFound", err)
	}

	if _, _, err := env.gw.SaveSale(ctx, &store.SaleRecord{
		DeviceID:   "wsm-0001",
		ExternalID: 17,
		Created:    env.now,
		AddCoin:    500,
	}); err != nil {
		t.Fatalf("SaveSale() error = %v", err)
	}

	if err := env.disp.SendSaleAck(ctx, "wsm-0001", 17); err != nil {
		t.Fatalf("SendSaleAck() error = %v", err)
	}

	rec := env.pub.last(t)
	if rec.topic != "wsm/wsm-0001/client/sale/ack" {
		t.Errorf("topic = %q", rec.topic)
	}
	body := decodeBody(t, rec.payload)
	if body["id"] != float64(17) || body["code"] != float64(0) {
		t.Errorf("ack body = %v, want id 17 code 0", body)
	}

	sale, err := env.gw.GetSale(ctx, "wsm-0001", 17)
	if err != nil {
		t.Fatalf("GetSale() error = %v", err)
	}
	if !sale.AckSent {
		t.Error("AckSent = false after SendSaleAck")
	}
}

func TestSendSaleAckPublishFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, _, err := env.gw.SaveSale(ctx, &store.SaleRecord{
		DeviceID:   "wsm-0001",
		ExternalID: 17,
		Created:    env.now,
	}); err != nil {
		t.Fatalf("SaveSale() error = %v", err)
	}

	env.pub.err = errors.New("broker gone")
	if err := env.disp.SendSaleAck(ctx, "wsm-0001", 17); err == nil {
		t.Fatal("SendSaleAck() error = nil, want publish failure")
	}

	// The sale stays unacked so it can be resent later.
	sale, err := env.gw.GetSale(ctx, "wsm-0001", 17)
	if err != nil {
		t.Fatalf("GetSale() error = %v", err)
	}
	if sale.AckSent {
		t.Error("AckSent = true after failed publish")
	}
}
