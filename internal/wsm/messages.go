package wsm

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Device JSON is loose: numeric fields may be null or absent, and the
// denomination tables may arrive either as arrays or as comma-separated
// strings. Every outbound envelope is normalized at construction so the
// device never sees a null.

// TableField is a denomination table (accepted bill or coin values).
// It unmarshals from either a JSON array of integers or a
// comma-separated string ("10, 50,100"). Malformed input degrades to an
// empty table rather than failing the whole command.
type TableField []int

// UnmarshalJSON implements json.Unmarshaler.
func (t *TableField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*t = TableField{}
		return nil
	}

	if data[0] == '[' {
		var vals []int
		if err := json.Unmarshal(data, &vals); err != nil {
			*t = TableField{}
			return nil
		}
		*t = vals
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*t = TableField{}
		return nil
	}

	var vals []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			*t = TableField{}
			return nil
		}
		vals = append(vals, n)
	}
	*t = vals
	return nil
}

// MarshalJSON always emits a JSON array, never null.
func (t TableField) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]int(t))
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// getEnvelope is the outbound body for setting/get, config/get and
// display/get commands.
type getEnvelope struct {
	RequestID int      `json:"request_id"`
	Fields    []string `json:"fields"`
}

// SettingsUpdate carries operator-supplied settings values. Pointer
// fields distinguish "null/absent" from zero; normalization turns both
// into zero on the wire.
type SettingsUpdate struct {
	MaxPayment       *int `json:"maxPayment"`
	MinPayPass       *int `json:"minPayPass"`
	MaxPayPass       *int `json:"maxPayPass"`
	DeltaPayPass     *int `json:"deltaPayPass"`
	TariffPerLiter1  *int `json:"tariffPerLiter_1"`
	TariffPerLiter2  *int `json:"tariffPerLiter_2"`
	PulsesPerLiter1  *int `json:"pulsesPerLiter_1"`
	PulsesPerLiter2  *int `json:"pulsesPerLiter_2"`
	PulsesPerLiter3  *int `json:"pulsesPerLiter_3"`
	TimeOnePay       *int `json:"timeOnePay"`
	LitersInFullTank *int `json:"litersInFullTank"`
	TimeServisMode   *int `json:"timeServisMode"`
	SpillTimer       *int `json:"spillTimer"`
	SpillAmount      *int `json:"spillAmount"`
}

// settingsSetEnvelope is the normalized wire form of a settings update.
type settingsSetEnvelope struct {
	RequestID        int `json:"request_id"`
	MaxPayment       int `json:"maxPayment"`
	MinPayPass       int `json:"minPayPass"`
	MaxPayPass       int `json:"maxPayPass"`
	DeltaPayPass     int `json:"deltaPayPass"`
	TariffPerLiter1  int `json:"tariffPerLiter_1"`
	TariffPerLiter2  int `json:"tariffPerLiter_2"`
	PulsesPerLiter1  int `json:"pulsesPerLiter_1"`
	PulsesPerLiter2  int `json:"pulsesPerLiter_2"`
	PulsesPerLiter3  int `json:"pulsesPerLiter_3"`
	TimeOnePay       int `json:"timeOnePay"`
	LitersInFullTank int `json:"litersInFullTank"`
	TimeServisMode   int `json:"timeServisMode"`
	SpillTimer       int `json:"spillTimer"`
	SpillAmount      int `json:"spillAmount"`
}

func (u SettingsUpdate) envelope(requestID int) settingsSetEnvelope {
	return settingsSetEnvelope{
		RequestID:        requestID,
		MaxPayment:       intOrZero(u.MaxPayment),
		MinPayPass:       intOrZero(u.MinPayPass),
		MaxPayPass:       intOrZero(u.MaxPayPass),
		DeltaPayPass:     intOrZero(u.DeltaPayPass),
		TariffPerLiter1:  intOrZero(u.TariffPerLiter1),
		TariffPerLiter2:  intOrZero(u.TariffPerLiter2),
		PulsesPerLiter1:  intOrZero(u.PulsesPerLiter1),
		PulsesPerLiter2:  intOrZero(u.PulsesPerLiter2),
		PulsesPerLiter3:  intOrZero(u.PulsesPerLiter3),
		TimeOnePay:       intOrZero(u.TimeOnePay),
		LitersInFullTank: intOrZero(u.LitersInFullTank),
		TimeServisMode:   intOrZero(u.TimeServisMode),
		SpillTimer:       intOrZero(u.SpillTimer),
		SpillAmount:      intOrZero(u.SpillAmount),
	}
}

// ConfigUpdate carries operator-supplied configuration values.
type ConfigUpdate struct {
	WifiStaSSID       *string    `json:"wifi_STA_ssid"`
	WifiStaPass       *string    `json:"wifi_STA_pass"`
	NTPServer         *string    `json:"ntp_server"`
	TimeZone          *int       `json:"timeZone"`
	BrokerURI         *string    `json:"broker_uri"`
	BrokerPort        *int       `json:"broker_port"`
	BrokerUser        *string    `json:"broker_user"`
	BrokerPass        *string    `json:"broker_pass"`
	OTAServer         *string    `json:"OTA_server"`
	OTAPort           *int       `json:"OTA_port"`
	BillTable         TableField `json:"bill_table"`
	CoinTable         TableField `json:"coin_table"`
	CoinValidatorType *string    `json:"coinValidatorType"`
	CoinPulsePrice    *int       `json:"coinPulsePrice"`
}

// configSetEnvelope is the normalized wire form of a config update.
type configSetEnvelope struct {
	RequestID         int        `json:"request_id"`
	WifiStaSSID       string     `json:"wifi_STA_ssid"`
	WifiStaPass       string     `json:"wifi_STA_pass"`
	NTPServer         string     `json:"ntp_server"`
	TimeZone          int        `json:"timeZone"`
	BrokerURI         string     `json:"broker_uri"`
	BrokerPort        int        `json:"broker_port"`
	BrokerUser        string     `json:"broker_user"`
	BrokerPass        string     `json:"broker_pass"`
	OTAServer         string     `json:"OTA_server"`
	OTAPort           int        `json:"OTA_port"`
	BillTable         TableField `json:"bill_table"`
	CoinTable         TableField `json:"coin_table"`
	CoinValidatorType string     `json:"coinValidatorType"`
	CoinPulsePrice    int        `json:"coinPulsePrice"`
}

func (u ConfigUpdate) envelope(requestID int) configSetEnvelope {
	return configSetEnvelope{
		RequestID:         requestID,
		WifiStaSSID:       strOrEmpty(u.WifiStaSSID),
		WifiStaPass:       strOrEmpty(u.WifiStaPass),
		NTPServer:         strOrEmpty(u.NTPServer),
		TimeZone:          intOrZero(u.TimeZone),
		BrokerURI:         strOrEmpty(u.BrokerURI),
		BrokerPort:        intOrZero(u.BrokerPort),
		BrokerUser:        strOrEmpty(u.BrokerUser),
		BrokerPass:        strOrEmpty(u.BrokerPass),
		OTAServer:         strOrEmpty(u.OTAServer),
		OTAPort:           intOrZero(u.OTAPort),
		BillTable:         u.BillTable,
		CoinTable:         u.CoinTable,
		CoinValidatorType: strOrEmpty(u.CoinValidatorType),
		CoinPulsePrice:    intOrZero(u.CoinPulsePrice),
	}
}

// rebootEnvelope is the outbound body for reboot/set.
type rebootEnvelope struct {
	RequestID int `json:"request_id"`
	Delay     int `json:"delay"`
}

// DefaultRebootDelay is the delay (ms) used when the caller does not
// specify one.
const DefaultRebootDelay = 400

// qrPaymentEnvelope credits a device after a provider payment.
type qrPaymentEnvelope struct {
	RequestID int       `json:"request_id"`
	AddQRCode qrPayment `json:"addQRcode"`
}

type qrPayment struct {
	OrderID string `json:"order_id"`
	Amount  int    `json:"amount"`
}

// freePaymentEnvelope credits a device without a provider payment.
type freePaymentEnvelope struct {
	RequestID int         `json:"request_id"`
	AddFree   freePayment `json:"addFree"`
}

type freePayment struct {
	Amount int `json:"amount"`
}

// ClearFlags selects which payment counters a clear command resets.
// A nil *ClearFlags means "clear everything".
type ClearFlags struct {
	CoinClear    bool `json:"CoinClear"`
	BillClear    bool `json:"BillClear"`
	PrevClear    bool `json:"PrevClear"`
	FreeClear    bool `json:"FreeClear"`
	QRcodeClear  bool `json:"QRcodeClear"`
	PayPassClear bool `json:"PayPassClear"`
}

// AllClearFlags returns flags clearing every counter.
func AllClearFlags() ClearFlags {
	return ClearFlags{
		CoinClear:    true,
		BillClear:    true,
		PrevClear:    true,
		FreeClear:    true,
		QRcodeClear:  true,
		PayPassClear: true,
	}
}

// clearPaymentEnvelope is the outbound body for a payment clear.
type clearPaymentEnvelope struct {
	RequestID int `json:"request_id"`
	ClearFlags
}

// Pour commands accepted by the device's action handler.
const (
	PourStart1 = "Start_1"
	PourStart2 = "Start_2"
	PourStop   = "Stop"
)

// ValidPour reports whether a pour value is one the device accepts.
func ValidPour(pour string) bool {
	return pour == PourStart1 || pour == PourStart2 || pour == PourStop
}

// Action carries an operator action command. Both fields are optional;
// absent fields are omitted from the wire envelope.
type Action struct {
	Pour     *string `json:"Pour,omitempty"`
	Blocking *bool   `json:"Blocking,omitempty"`
}

// actionEnvelope is the outbound body for action/set.
type actionEnvelope struct {
	RequestID int     `json:"request_id"`
	Pour      *string `json:"Pour,omitempty"`
	Blocking  *bool   `json:"Blocking,omitempty"`
}

// financialAckEnvelope acknowledges a sale or incass event.
type financialAckEnvelope struct {
	ID   int `json:"id"`
	Code int `json:"code"`
}

// Inbound payload shapes. Numeric fields are pointers where the device
// is known to omit or null them; consumers normalize with intOrZero.

// InboundState is a state/info report.
type InboundState struct {
	RequestID           int  `json:"request_id"`
	OperatingMode       *int `json:"operatingMode"`
	SummaInBox          *int `json:"summaInBox"`
	LitersInTank        *int `json:"litersInTank"`
	TankLowLevelSensor  *int `json:"tankLowLevelSensor"`
	TankHighLevelSensor *int `json:"tankHighLevelSensor"`
	DepositBoxSensor    *int `json:"depositBoxSensor"`
	DoorSensor          *int `json:"doorSensor"`
	CoinState           *int `json:"coinState"`
	BillState           *int `json:"billState"`
	Errors              any  `json:"errors"`
}

// InboundSettings is a settings report.
type InboundSettings struct {
	RequestID        int  `json:"request_id"`
	MaxPayment       *int `json:"maxPayment"`
	MinPayPass       *int `json:"minPayPass"`
	MaxPayPass       *int `json:"maxPayPass"`
	DeltaPayPass     *int `json:"deltaPayPass"`
	TariffPerLiter1  *int `json:"tariffPerLiter_1"`
	TariffPerLiter2  *int `json:"tariffPerLiter_2"`
	PulsesPerLiter1  *int `json:"pulsesPerLiter_1"`
	PulsesPerLiter2  *int `json:"pulsesPerLiter_2"`
	PulsesPerLiter3  *int `json:"pulsesPerLiter_3"`
	TimeOnePay       *int `json:"timeOnePay"`
	LitersInFullTank *int `json:"litersInFullTank"`
	TimeServisMode   *int `json:"timeServisMode"`
	SpillTimer       *int `json:"spillTimer"`
	SpillAmount      *int `json:"spillAmount"`
}

// InboundConfig is a config report.
type InboundConfig struct {
	RequestID         int        `json:"request_id"`
	WifiStaSSID       *string    `json:"wifi_STA_ssid"`
	WifiStaPass       *string    `json:"wifi_STA_pass"`
	NTPServer         *string    `json:"ntp_server"`
	TimeZone          *int       `json:"timeZone"`
	BrokerURI         *string    `json:"broker_uri"`
	BrokerPort        *int       `json:"broker_port"`
	BrokerUser        *string    `json:"broker_user"`
	BrokerPass        *string    `json:"broker_pass"`
	OTAServer         *string    `json:"OTA_server"`
	OTAPort           *int       `json:"OTA_port"`
	BillTable         TableField `json:"bill_table"`
	CoinTable         TableField `json:"coin_table"`
	CoinValidatorType *string    `json:"coinValidatorType"`
	CoinPulsePrice    *int       `json:"coinPulsePrice"`
}

// InboundAck is an acknowledgment for a previously dispatched command.
type InboundAck struct {
	RequestID int    `json:"request_id"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
}

// InboundDenomination is an accepted coin or bill event. Exactly one
// of the value fields is expected.
type InboundDenomination struct {
	Coin *int `json:"coin"`
	Bill *int `json:"bill"`
}

// InboundDisplay is a display report.
type InboundDisplay struct {
	Line1 string `json:"line_1"`
	Line2 string `json:"line_2"`
}

// InboundSale is a completed-sale report. The device retransmits it
// until acknowledged.
type InboundSale struct {
	ID             int    `json:"id"`
	AddCoin        int    `json:"addCoin"`
	AddBill        int    `json:"addBill"`
	AddPrev        int    `json:"addPrev"`
	AddFree        int    `json:"addFree"`
	AddQR          int    `json:"add_QR"`
	AddPP          int    `json:"add_PP"`
	OutLiters1     int    `json:"OutLiters_1"`
	OutLiters2     int    `json:"OutLiters_2"`
	SaleType       int    `json:"saleType"`
	CardCode       string `json:"cardCode"`
	CardBalanceIn  int    `json:"cardBalanceIn"`
	CardBalanceOut int    `json:"cardBalanceOut"`
}

// InboundCollection is a cash-collection (incass) report.
type InboundCollection struct {
	ID     int `json:"id"`
	Coin1  int `json:"coin_1"`
	Coin2  int `json:"coin_2"`
	Coin3  int `json:"coin_3"`
	Coin4  int `json:"coin_4"`
	Coin5  int `json:"coin_5"`
	Coin6  int `json:"coin_6"`
	Bill1  int `json:"bill_1"`
	Bill2  int `json:"bill_2"`
	Bill3  int `json:"bill_3"`
	Bill4  int `json:"bill_4"`
	Bill5  int `json:"bill_5"`
	Bill6  int `json:"bill_6"`
	Bill7  int `json:"bill_7"`
	Bill8  int `json:"bill_8"`
	Amount int `json:"amount"`
}

// ParseInbound splits a device-to-server topic into its device id and
// suffix. Topics that do not match {root}/{deviceID}/server/{suffix}
// return ok=false: too few segments, a different direction segment, or
// the reserved "system" id.
func ParseInbound(root, topic string) (deviceID, suffix string, ok bool) {
	prefix := root + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", "", false
	}

	parts := strings.Split(topic[len(prefix):], "/")
	if len(parts) < 3 {
		return "", "", false
	}

	deviceID = parts[0]
	if deviceID == "" || deviceID == "system" {
		return "", "", false
	}
	if parts[1] != "server" {
		return "", "", false
	}

	return deviceID, strings.Join(parts[2:], "/"), true
}

// toPayloadMap converts any envelope/report struct into the generic
// map form cached in device sessions.
func toPayloadMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
