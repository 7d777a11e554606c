package wsm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/vodomat/wsm-core/internal/device"
	"github.com/vodomat/wsm-core/internal/infrastructure/influxdb"
	"github.com/vodomat/wsm-core/internal/infrastructure/mqtt"
	"github.com/vodomat/wsm-core/internal/store"
)

// defaultQueueSize bounds the inbound message queue. The consumer is a
// single goroutine, so the queue absorbs bursts from the broker.
const defaultQueueSize = 256

// StateSink receives telemetry derived from device reports. Writes are
// non-blocking; a sink failure never affects message processing.
// Satisfied by influxdb.Client.
type StateSink interface {
	WriteDeviceState(deviceID string, p influxdb.StatePoint)
	WriteSale(deviceID string, amount int, source string)
	WriteCollection(deviceID string, amount int)
}

type inboundMessage struct {
	deviceID string
	suffix   string
	payload  []byte
}

// Router consumes device-to-server messages and applies them to the
// session registry and the store.
//
// Messages are processed strictly in arrival order by a single
// consumer goroutine. Malformed payloads and unknown suffixes are
// logged and dropped; persistence failures are logged and processing
// continues so one bad write cannot stall the stream.
type Router struct {
	registry *device.Registry
	store    store.Gateway
	disp     *Dispatcher
	root     string
	sink     StateSink
	logger   Logger
	now      func() time.Time

	queue    chan inboundMessage
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRouter creates an inbound message router. A queueSize of zero or
// less uses the default.
func NewRouter(registry *device.Registry, gw store.Gateway, disp *Dispatcher, topics mqtt.Topics, queueSize int) *Router {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	root := topics.Root
	if root == "" {
		root = mqtt.DefaultTopicRoot
	}
	return &Router{
		registry: registry,
		store:    gw,
		disp:     disp,
		root:     root,
		logger:   noopLogger{},
		now:      time.Now,
		queue:    make(chan inboundMessage, queueSize),
	}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// SetStateSink attaches an optional telemetry sink.
func (r *Router) SetStateSink(sink StateSink) {
	r.sink = sink
}

// Start launches the consumer goroutine. It exits when ctx is
// cancelled or Stop is called.
func (r *Router) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-r.queue:
				if !ok {
					return
				}
				r.process(ctx, msg)
			}
		}
	}()
}

// Stop closes the queue and waits for in-flight processing to finish.
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		close(r.queue)
	})
	r.wg.Wait()
}

// HandleMessage enqueues an inbound MQTT message for processing.
//
// Topics that do not match the device-to-server shape (own outbound
// traffic echoed by the wildcard subscription, the system status
// topic, short topics) are silently ignored. When the queue is full
// the message is dropped with a warning and ErrQueueFull is returned.
func (r *Router) HandleMessage(topic string, payload []byte) error {
	deviceID, suffix, ok := ParseInbound(r.root, topic)
	if !ok {
		return nil
	}

	body := make([]byte, len(payload))
	copy(body, payload)

	select {
	case r.queue <- inboundMessage{deviceID: deviceID, suffix: suffix, payload: body}:
		return nil
	default:
		r.logger.Warn("inbound queue full, dropping message",
			"device_id", deviceID, "suffix", suffix)
		return ErrQueueFull
	}
}

func (r *Router) process(ctx context.Context, msg inboundMessage) {
	now := r.now()

	sess := r.registry.GetOrCreate(msg.deviceID)
	sess.Touch(now)

	dev, err := r.store.GetOrCreateDevice(ctx, msg.deviceID, now)
	if err != nil {
		r.logger.Error("updating device record", "device_id", msg.deviceID, "error", err)
	} else if sess.ProviderKey() == "" && dev.ProviderAPIKey != "" {
		sess.SetProviderKey(dev.ProviderAPIKey)
	}

	switch msg.suffix {
	case "state/info":
		r.handleState(ctx, sess, msg.payload, now)
	case "setting":
		r.handleSettings(ctx, sess, msg.payload, now)
	case "config":
		r.handleConfig(ctx, sess, msg.payload, now)
	case "setting/ack":
		r.handleAck(ctx, sess, device.AckSetting, msg.payload, now)
	case "config/ack":
		r.handleAck(ctx, sess, device.AckConfig, msg.payload, now)
	case "reboot/ack":
		r.handleRebootAck(ctx, sess, msg.payload, now)
	case "payment/ack":
		r.handlePaymentAck(ctx, sess, msg.payload, now)
	case "action/ack":
		r.handleAck(ctx, sess, device.AckAction, msg.payload, now)
	case "denomination/info":
		r.handleDenomination(ctx, sess, msg.payload, now)
	case "display":
		r.handleDisplay(ctx, sess, msg.payload, now)
	case "sale/set":
		r.handleSale(ctx, sess, msg.payload, now)
	case "incass/set":
		r.handleCollection(ctx, sess, msg.payload, now)
	default:
		r.logger.Warn("unknown topic suffix", "device_id", sess.ID(), "suffix", msg.suffix)
	}
}

func (r *Router) handleState(ctx context.Context, sess *device.Session, payload []byte, now time.Time) {
	var v InboundState
	if err := json.Unmarshal(payload, &v); err != nil {
		r.logger.Warn("malformed state report", "device_id", sess.ID(), "error", err)
		return
	}

	sess.SetState(toPayloadMap(v), v.RequestID, now)

	rec := &store.StateRecord{
		DeviceID:            sess.ID(),
		Created:             now,
		OperatingMode:       intOrZero(v.OperatingMode),
		SummaInBox:          intOrZero(v.SummaInBox),
		LitersInTank:        intOrZero(v.LitersInTank),
		TankLowLevelSensor:  intOrZero(v.TankLowLevelSensor),
		TankHighLevelSensor: intOrZero(v.TankHighLevelSensor),
		DepositBoxSensor:    intOrZero(v.DepositBoxSensor),
		DoorSensor:          intOrZero(v.DoorSensor),
		CoinState:           intOrZero(v.CoinState),
		BillState:           intOrZero(v.BillState),
		Errors:              errorsString(v.Errors),
	}
	if err := r.store.SaveState(ctx, rec); err != nil {
		r.logger.Error("persisting state report", "device_id", sess.ID(), "error", err)
	}

	if r.sink != nil {
		r.sink.WriteDeviceState(sess.ID(), influxdb.StatePoint{
			OperatingMode: rec.OperatingMode,
			CashBoxTotal:  rec.SummaInBox,
			LitersInTank:  rec.LitersInTank,
			TankLowLevel:  rec.TankLowLevelSensor,
			TankHighLevel: rec.TankHighLevelSensor,
			DepositBox:    rec.DepositBoxSensor,
			DoorSensor:    rec.DoorSensor,
			CoinState:     rec.CoinState,
			BillState:     rec.BillState,
		})
	}
}

func (r *Router) handleSettings(ctx context.Context, sess *device.Session, payload []byte, now time.Time) {
	var v InboundSettings
	if err := json.Unmarshal(payload, &v); err != nil {
		r.logger.Warn("malformed settings report", "device_id", sess.ID(), "error", err)
		return
	}

	sess.SetSettings(toPayloadMap(v), v.RequestID, now)

	rec := &store.SettingsRecord{
		DeviceID:         sess.ID(),
		Created:          now,
		RequestID:        v.RequestID,
		MaxPayment:       intOrZero(v.MaxPayment),
		MinPayPass:       intOrZero(v.MinPayPass),
		MaxPayPass:       intOrZero(v.MaxPayPass),
		DeltaPayPass:     intOrZero(v.DeltaPayPass),
		TariffPerLiter1:  intOrZero(v.TariffPerLiter1),
		TariffPerLiter2:  intOrZero(v.TariffPerLiter2),
		PulsesPerLiter1:  intOrZero(v.PulsesPerLiter1),
		PulsesPerLiter2:  intOrZero(v.PulsesPerLiter2),
		PulsesPerLiter3:  intOrZero(v.PulsesPerLiter3),
		TimeOnePay:       intOrZero(v.TimeOnePay),
		LitersInFullTank: intOrZero(v.LitersInFullTank),
		TimeServisMode:   intOrZero(v.TimeServisMode),
		SpillTimer:       intOrZero(v.SpillTimer),
		SpillAmount:      intOrZero(v.SpillAmount),
	}
	if err := r.store.SaveSettings(ctx, rec); err != nil {
		r.logger.Error("persisting settings report", "device_id", sess.ID(), "error", err)
	}
}

func (r *Router) handleConfig(ctx context.Context, sess *device.Session, payload []byte, now time.Time) {
	var v InboundConfig
	if err := json.Unmarshal(payload, &v); err != nil {
		r.logger.Warn("malformed config report", "device_id", sess.ID(), "error", err)
		return
	}

	// The provider key lives server-side, not on the device, so the
	// device's config report never carries it. Attach it here so config
	// reads show the key alongside the rest of the configuration.
	m := toPayloadMap(v)
	if key := sess.ProviderKey(); key != "" {
		m["provider_api_key"] = key
	}
	sess.SetConfig(m, v.RequestID, now)

	rec := &store.ConfigRecord{
		DeviceID:          sess.ID(),
		Created:           now,
		RequestID:         v.RequestID,
		WifiStaSSID:       strOrEmpty(v.WifiStaSSID),
		WifiStaPass:       strOrEmpty(v.WifiStaPass),
		NTPServer:         strOrEmpty(v.NTPServer),
		TimeZone:          intOrZero(v.TimeZone),
		BrokerURI:         strOrEmpty(v.BrokerURI),
		BrokerPort:        intOrZero(v.BrokerPort),
		BrokerUser:        strOrEmpty(v.BrokerUser),
		BrokerPass:        strOrEmpty(v.BrokerPass),
		OTAServer:         strOrEmpty(v.OTAServer),
		OTAPort:           intOrZero(v.OTAPort),
		BillTable:         tableString(v.BillTable),
		CoinTable:         tableString(v.CoinTable),
		CoinValidatorType: strOrEmpty(v.CoinValidatorType),
		CoinPulsePrice:    intOrZero(v.CoinPulsePrice),
	}
	if err := r.store.SaveConfig(ctx, rec); err != nil {
		r.logger.Error("persisting config report", "device_id", sess.ID(), "error", err)
	}
}

func (r *Router) handleAck(ctx context.Context, sess *device.Session, kind string, payload []byte, now time.Time) {
	v, ok := r.parseAck(sess, kind, payload)
	if !ok {
		return
	}

	sess.SetAck(kind, device.AckRecord{
		Code:       v.Code,
		Message:    v.Message,
		Payload:    toPayloadMap(v),
		ReceivedAt: now,
	})

	rec := &store.AckMessage{
		DeviceID:    sess.ID(),
		Created:     now,
		MessageType: kind + "_ack",
		Code:        v.Code,
		Message:     v.Message,
	}
	if err := r.store.SaveAck(ctx, rec); err != nil {
		r.logger.Error("persisting ack", "device_id", sess.ID(), "kind", kind, "error", err)
	}
}

// handleRebootAck records the ack and then re-requests settings and
// config, since a reboot resets the device's working values.
func (r *Router) handleRebootAck(ctx context.Context, sess *device.Session, payload []byte, now time.Time) {
	r.handleAck(ctx, sess, device.AckReboot, payload, now)

	if err := r.disp.RequestSettings(ctx, sess.ID()); err != nil {
		r.logger.Error("re-requesting settings after reboot", "device_id", sess.ID(), "error", err)
	}
	if err := r.disp.RequestConfig(ctx, sess.ID()); err != nil {
		r.logger.Error("re-requesting config after reboot", "device_id", sess.ID(), "error", err)
	}
}

// handlePaymentAck records the ack and, when the device accepted the
// credit (code 0), confirms the oldest pending provider payment.
func (r *Router) handlePaymentAck(ctx context.Context, sess *device.Session, payload []byte, now time.Time) {
	v, ok := r.parseAck(sess, device.AckPayment, payload)
	if !ok {
		return
	}

	r.handleAck(ctx, sess, device.AckPayment, payload, now)

	if v.Code != 0 {
		r.logger.Warn("payment rejected by device",
			"device_id", sess.ID(), "code", v.Code, "message", v.Message)
		return
	}

	pending, err := r.store.OldestPendingPayment(ctx, sess.ID())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Debug("payment ack with no pending payment", "device_id", sess.ID())
		} else {
			r.logger.Error("looking up pending payment", "device_id", sess.ID(), "error", err)
		}
		return
	}

	if err := r.store.ConfirmPayment(ctx, pending.ID, now); err != nil {
		r.logger.Error("confirming payment",
			"device_id", sess.ID(), "payment_id", pending.ID, "error", err)
		return
	}
	r.logger.Info("payment confirmed",
		"device_id", sess.ID(), "payment_id", pending.ID,
		"order_id", pending.OrderID, "amount", pending.Amount)
}

func (r *Router) parseAck(sess *device.Session, kind string, payload []byte) (InboundAck, bool) {
	var v InboundAck
	if err := json.Unmarshal(payload, &v); err != nil {
		r.logger.Warn("malformed ack", "device_id", sess.ID(), "kind", kind, "error", err)
		return InboundAck{}, false
	}
	return v, true
}

// handleDenomination records an accepted coin or bill: session history
// for the live API view, plus a confirmed payment row.
func (r *Router) handleDenomination(ctx context.Context, sess *device.Session, payload []byte, now time.Time) {
	var v InboundDenomination
	if err := json.Unmarshal(payload, &v); err != nil {
		r.logger.Warn("malformed denomination report", "device_id", sess.ID(), "error", err)
		return
	}

	var kind string
	var amount int
	switch {
	case v.Coin != nil:
		kind, amount = "coin", *v.Coin
	case v.Bill != nil:
		kind, amount = "bill", *v.Bill
	default:
		r.logger.Warn("denomination report without value", "device_id", sess.ID())
		return
	}

	sess.AddDenomination(device.Denomination{Kind: kind, Amount: amount, ReceivedAt: now})

	paymentType := store.PaymentTypeCoin
	if kind == "bill" {
		paymentType = store.PaymentTypeBill
	}
	rec := &store.PaymentRecord{
		DeviceID:    sess.ID(),
		Created:     now,
		Amount:      amount,
		PaymentType: paymentType,
		Status:      store.PaymentConfirmed,
		ConfirmedAt: &now,
	}
	if err := r.store.SavePayment(ctx, rec); err != nil {
		r.logger.Error("persisting denomination payment", "device_id", sess.ID(), "error", err)
	}
}

func (r *Router) handleDisplay(ctx context.Context, sess *device.Session, payload []byte, now time.Time) {
	var v InboundDisplay
	if err := json.Unmarshal(payload, &v); err != nil {
		r.logger.Warn("malformed display report", "device_id", sess.ID(), "error", err)
		return
	}

	sess.SetDisplay(toPayloadMap(v), now)

	rec := &store.DisplayRecord{
		DeviceID: sess.ID(),
		Created:  now,
		Line1:    v.Line1,
		Line2:    v.Line2,
	}
	if err := r.store.SaveDisplay(ctx, rec); err != nil {
		r.logger.Error("persisting display report", "device_id", sess.ID(), "error", err)
	}
}

// errorsString flattens the device's errors field, which may be a
// string, an array, or absent.
func errorsString(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	default:
		data, err := json.Marshal(e)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// tableString renders a denomination table in its stored JSON form.
func tableString(t TableField) string {
	data, err := json.Marshal(t)
	if err != nil {
		return "[]"
	}
	return string(data)
}
