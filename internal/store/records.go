package store

import "time"

// Device is one known vending device.
type Device struct {
	ID             string    `json:"id"`
	LastSeen       time.Time `json:"last_seen"`
	ProviderAPIKey string    `json:"-"`
}

// StateRecord is one state/info report. Append-only.
type StateRecord struct {
	ID                  int64     `json:"id"`
	DeviceID            string    `json:"device_id"`
	Created             time.Time `json:"created"`
	OperatingMode       int       `json:"operating_mode"`
	SummaInBox          int       `json:"summa_in_box"`
	LitersInTank        int       `json:"liters_in_tank"`
	TankLowLevelSensor  int       `json:"tank_low_level_sensor"`
	TankHighLevelSensor int       `json:"tank_high_level_sensor"`
	DepositBoxSensor    int       `json:"deposit_box_sensor"`
	DoorSensor          int       `json:"door_sensor"`
	CoinState           int       `json:"coin_state"`
	BillState           int       `json:"bill_state"`
	Errors              string    `json:"errors"`
}

// SettingsRecord is one settings report. Append-only.
type SettingsRecord struct {
	ID               int64     `json:"id"`
	DeviceID         string    `json:"device_id"`
	Created          time.Time `json:"created"`
	RequestID        int       `json:"request_id"`
	MaxPayment       int       `json:"max_payment"`
	MinPayPass       int       `json:"min_pay_pass"`
	MaxPayPass       int       `json:"max_pay_pass"`
	DeltaPayPass     int       `json:"delta_pay_pass"`
	TariffPerLiter1  int       `json:"tariff_per_liter_1"`
	TariffPerLiter2  int       `json:"tariff_per_liter_2"`
	PulsesPerLiter1  int       `json:"pulses_per_liter_1"`
	PulsesPerLiter2  int       `json:"pulses_per_liter_2"`
	PulsesPerLiter3  int       `json:"pulses_per_liter_3"`
	TimeOnePay       int       `json:"time_one_pay"`
	LitersInFullTank int       `json:"liters_in_full_tank"`
	TimeServisMode   int       `json:"time_servis_mode"`
	SpillTimer       int       `json:"spill_timer"`
	SpillAmount      int       `json:"spill_amount"`
}

// ConfigRecord is one config report. Append-only.
// BillTable and CoinTable are stored as JSON arrays of integers.
type ConfigRecord struct {
	ID                int64     `json:"id"`
	DeviceID          string    `json:"device_id"`
	Created           time.Time `json:"created"`
	RequestID         int       `json:"request_id"`
	WifiStaSSID       string    `json:"wifi_sta_ssid"`
	WifiStaPass       string    `json:"wifi_sta_pass"`
	NTPServer         string    `json:"ntp_server"`
	TimeZone          int       `json:"time_zone"`
	BrokerURI         string    `json:"broker_uri"`
	BrokerPort        int       `json:"broker_port"`
	BrokerUser        string    `json:"broker_user"`
	BrokerPass        string    `json:"broker_pass"`
	OTAServer         string    `json:"ota_server"`
	OTAPort           int       `json:"ota_port"`
	BillTable         string    `json:"bill_table"`
	CoinTable         string    `json:"coin_table"`
	CoinValidatorType string    `json:"coin_validator_type"`
	CoinPulsePrice    int       `json:"coin_pulse_price"`
}

// AckMessage is one acknowledgment received from a device.
type AckMessage struct {
	ID          int64     `json:"id"`
	DeviceID    string    `json:"device_id"`
	Created     time.Time `json:"created"`
	MessageType string    `json:"message_type"`
	Code        int       `json:"code"`
	Message     string    `json:"message"`
}

// DisplayRecord is one display report (two text lines).
type DisplayRecord struct {
	ID       int64     `json:"id"`
	DeviceID string    `json:"device_id"`
	Created  time.Time `json:"created"`
	Line1    string    `json:"line_1"`
	Line2    string    `json:"line_2"`
}

// Payment statuses.
const (
	PaymentPending   = "pending"
	PaymentConfirmed = "confirmed"
)

// Payment types.
const (
	PaymentTypeCoin = "coin"
	PaymentTypeBill = "bill"
	PaymentTypeQR   = "qr_code"
	PaymentTypeFree = "free_credit"
)

// PaymentRecord is one credit applied to or reported by a device.
//
// Provider payments (QR) start pending and are confirmed when the
// device acknowledges the credit. Coin and bill payments are recorded
// confirmed as they arrive.
type PaymentRecord struct {
	ID          int64      `json:"id"`
	DeviceID    string     `json:"device_id"`
	Created     time.Time  `json:"created"`
	Amount      int        `json:"amount"`
	PaymentType string     `json:"payment_type"`
	OrderID     string     `json:"order_id,omitempty"`
	Status      string     `json:"status"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// SaleRecord is one completed sale reported by a device.
//
// ExternalID is the device-assigned sale number; together with the
// device id it uniquely identifies the sale across retransmissions.
type SaleRecord struct {
	ID             int64     `json:"id"`
	DeviceID       string    `json:"device_id"`
	ExternalID     int       `json:"external_id"`
	Created        time.Time `json:"created"`
	AddCoin        int       `json:"add_coin"`
	AddBill        int       `json:"add_bill"`
	AddPrev        int       `json:"add_prev"`
	AddFree        int       `json:"add_free"`
	AddQR          int       `json:"add_qr"`
	AddPP          int       `json:"add_pp"`
	OutLiters1     int       `json:"out_liters_1"`
	OutLiters2     int       `json:"out_liters_2"`
	SaleType       int       `json:"sale_type"`
	CardCode       string    `json:"card_code,omitempty"`
	CardBalanceIn  int       `json:"card_balance_in"`
	CardBalanceOut int       `json:"card_balance_out"`
	PaymentSource  string    `json:"payment_source"`
	AckSent        bool      `json:"ack_sent"`
}

// CollectionRecord is one cash-collection (incass) event.
type CollectionRecord struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	ExternalID int       `json:"external_id"`
	Created    time.Time `json:"created"`
	Coins      [6]int    `json:"coins"`
	Bills      [8]int    `json:"bills"`
	Amount     int       `json:"amount"`
	AckSent    bool      `json:"ack_sent"`
}
