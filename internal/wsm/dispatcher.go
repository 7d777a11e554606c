package wsm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vodomat/wsm-core/internal/device"
	"github.com/vodomat/wsm-core/internal/infrastructure/mqtt"
	"github.com/vodomat/wsm-core/internal/store"
)

// Publisher is the outbound transport surface the dispatcher needs.
// Satisfied by mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger defines the logging interface used by the wsm package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dispatcher publishes commands to devices.
//
// Every command follows the same protocol: verify the device is known,
// clear the matching ack slot (and for gets, invalidate the cached
// snapshot) so a stale reply can never satisfy a poll for this
// command's result, then publish. Commands are fire-and-forget;
// success is only knowable via a later inbound ack.
type Dispatcher struct {
	registry *device.Registry
	store    store.Gateway
	pub      Publisher
	topics   mqtt.Topics
	qos      byte
	logger   Logger
	now      func() time.Time
}

// NewDispatcher creates a command dispatcher.
func NewDispatcher(registry *device.Registry, gw store.Gateway, pub Publisher, topics mqtt.Topics, qos byte) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		store:    gw,
		pub:      pub,
		topics:   topics,
		qos:      qos,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// session resolves the device's session, falling back to the durable
// device table when the registry has no entry yet. The fallback covers
// the window after a restart when a store-known device has not
// reported, which would otherwise reject webhook-driven commands.
func (d *Dispatcher) session(ctx context.Context, deviceID string) (*device.Session, error) {
	if sess, ok := d.registry.Get(deviceID); ok {
		return sess, nil
	}

	dev, err := d.store.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		return nil, fmt.Errorf("resolving device %s: %w", deviceID, err)
	}

	sess := d.registry.GetOrCreate(deviceID)
	if dev.ProviderAPIKey != "" {
		sess.SetProviderKey(dev.ProviderAPIKey)
	}
	return sess, nil
}

func (d *Dispatcher) publish(deviceID, domain, verb string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s/%s command: %w", domain, verb, err)
	}

	topic := d.topics.Command(deviceID, domain, verb)
	if err := d.pub.Publish(topic, payload, d.qos, false); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}

	d.logger.Debug("command dispatched", "device_id", deviceID, "topic", topic)
	return nil
}

// RequestSettings asks a device to report its current settings.
// The cached settings snapshot is invalidated before the publish so a
// subsequent read waits for the fresh report.
func (d *Dispatcher) RequestSettings(ctx context.Context, deviceID string) error {
	sess, err := d.session(ctx, deviceID)
	if err != nil {
		return err
	}

	sess.ClearAck(device.AckSetting)
	sess.ResetSettings()

	return d.publish(deviceID, "setting", "get", getEnvelope{
		RequestID: sess.SettingsRequestID(),
		Fields:    []string{},
	})
}

// UpdateSettings pushes new settings to a device. Null numeric fields
// are normalized to zero on the wire.
func (d *Dispatcher) UpdateSettings(ctx context.Context, deviceID string, u SettingsUpdate) error {
	sess, err := d.session(ctx, deviceID)
	if err != nil {
		return err
	}

	sess.ClearAck(device.AckSetting)

	return d.publish(deviceID, "setting", "set", u.envelope(sess.SettingsRequestID()))
}

// RequestConfig asks a device to report its current configuration.
func (d *Dispatcher) RequestConfig(ctx context.Context, deviceID string) error {
	sess, err := d.session(ctx, deviceID)
	if err != nil {
		return err
	}

	sess.ClearAck(device.AckConfig)
	sess.ResetConfig()

	return d.publish(deviceID, "config", "get", getEnvelope{
		RequestID: sess.ConfigRequestID(),
		Fields:    []string{},
	})
}

// UpdateConfig pushes new configuration to a device. Null strings
// become "", null numerics become 0, and denomination tables accept
// either arrays or comma-separated strings.
func (d *Dispatcher) UpdateConfig(ctx context.Context, deviceID string, u ConfigUpdate) error {
	sess, err := d.session(ctx, deviceID)
	if err != nil {
		return err
	}

	sess.ClearAck(device.AckConfig)

	return d.publish(deviceID, "config", "set", u.envelope(sess.ConfigRequestID()))
}

// Reboot instructs a device to restart after delay milliseconds.
// A non-positive delay uses DefaultRebootDelay.
func (d *Dispatcher) Reboot(ctx context.Context, deviceID string, delay int) error {
	sess, err := d.session(ctx, deviceID)
	if err != nil {
		return err
	}

	if delay <= 0 {
		delay = DefaultRebootDelay
	}

	sess.ClearAck(device.AckReboot)

	return d.publish(deviceID, "reboot", "set", rebootEnvelope{
		RequestID: device.DefaultRequestID,
		Delay:     delay,
	})
}

// RequestDisplay asks a device to report its display lines.
func (d *Dispatcher) RequestDisplay(ctx context.Context, deviceID string) error {
	sess, err := d.session(ctx, deviceID)
	if err != nil {
		return err
	}

	sess.ResetDisplay()

	return d.publish(deviceID, "display", "get", getEnvelope{
		RequestID: device.DefaultRequestID,
		Fields:    []string{"line_1", "line_2"},
	})
}

// SendQRCodePayment credits a device after a completed provider
// payment. The payment is recorded pending before the publish; it is
// reconciled to confirmed when the device acks with code 0.
//
// An empty orderID gets a generated one.
func (d *Dispatcher) SendQRCodePayment(ctx context.Context, deviceID, orderID string, amount int) error {
	sess, err := d.session(ctx, deviceID)
	if err != nil {
		return err
	}

	if orderID == "" {
		orderID = fmt.Sprintf("order_%d", d.now().Unix())
	}

	rec := &store.PaymentRecord{
		DeviceID:    deviceID,
		Created:     d.now(),
		Amount:      amount,
		PaymentType: store.PaymentTypeQR,
		OrderID:     orderID,
		Status:      store.PaymentPending,
	}
	if err := d.store.SavePayment(ctx, rec); err != nil {
		return fmt.Errorf("recording provider payment: %w", err)
	}

	sess.ClearAck(device.AckPayment)

	return d.publish(deviceID, "payment", "set", qrPaymentEnvelope{
		RequestID: device.DefaultRequestID,
		AddQRCode: qrPayment{OrderID: orderID, Amount: amount},
	})
}

// SendFreePayment credits a device without a provider payment.
func (d *Dispatcher) SendFreePayment(ctx context.Context, deviceID string, amount int) error {
	sess, err := d.session(ctx, deviceID)
	if err != nil {
		return err
	}

	rec := &store.PaymentRecord{
		DeviceID:    deviceID,
		Created:     d.now(),
		Amount:      amount,
		PaymentType: store.PaymentTypeFree,
		Status:      store.PaymentPending,
	}
	if err := d.store.SavePayment(ctx, rec); err != nil {
		return fmt.Errorf("recording free payment: %w", err)
	}

	sess.ClearAck(device.AckPayment)

	return d.publish(deviceID, "payment", "set", freePaymentEnvelope{
		RequestID: device.DefaultRequestID,
		AddFree:   freePayment{Amount: amount},
	})
}

// ClearPayment resets payment counters on a device. A nil flags value
// clears everything.
func (d *Dispatcher) ClearPayment(ctx context.Context, deviceID string, flags *ClearFlags) error {
	sess, err := d.session(ctx, deviceID)
	if err != nil {
		return err
	}

	f := AllClearFlags()
	if flags != nil {
		f = *flags
	}

	sess.ClearAck(device.AckPayment)

	return d.publish(deviceID, "payment", "set", clearPaymentEnvelope{
		RequestID:  device.DefaultRequestID,
		ClearFlags: f,
	})
}

// SendAction sends a pour or blocking command.
func (d *Dispatcher) SendAction(ctx context.Context, deviceID string, a Action) error {
	sess, err := d.session(ctx, deviceID)
	if err != nil {
		return err
	}

	if a.Pour != nil && !ValidPour(*a.Pour) {
		return fmt.Errorf("%w: %q", ErrInvalidPour, *a.Pour)
	}

	sess.ClearAck(device.AckAction)

	return d.publish(deviceID, "action", "set", actionEnvelope{
		RequestID: device.DefaultRequestID,
		Pour:      a.Pour,
		Blocking:  a.Blocking,
	})
}

// SendSaleAck publishes the acknowledgment for a stored sale and marks
// it sent. Safe to call repeatedly: the device treats a repeated
// (id, code) ack as a no-op, so this is also the resend path when an
// earlier ack publish failed.
func (d *Dispatcher) SendSaleAck(ctx context.Context, deviceID string, externalID int) error {
	sale, err := d.store.GetSale(ctx, deviceID, externalID)
	if err != nil {
		return err
	}

	if err := d.publish(deviceID, "sale", "ack", financialAckEnvelope{ID: externalID, Code: 0}); err != nil {
		return err
	}

	if err := d.store.MarkSaleAckSent(ctx, sale.ID); err != nil {
		d.logger.Error("marking sale ack sent", "device_id", deviceID, "external_id", externalID, "error", err)
	}
	return nil
}

// SendCollectionAck publishes the acknowledgment for a stored
// collection and marks it sent. Repeat-safe like SendSaleAck.
func (d *Dispatcher) SendCollectionAck(ctx context.Context, deviceID string, externalID int) error {
	col, err := d.store.GetCollection(ctx, deviceID, externalID)
	if err != nil {
		return err
	}

	if err := d.publish(deviceID, "incass", "ack", financialAckEnvelope{ID: externalID, Code: 0}); err != nil {
		return err
	}

	if err := d.store.MarkCollectionAckSent(ctx, col.ID); err != nil {
		d.logger.Error("marking collection ack sent", "device_id", deviceID, "external_id", externalID, "error", err)
	}
	return nil
}
