package wsm

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestTableFieldUnmarshal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  TableField
	}{
		{"array", `[10, 50, 100]`, TableField{10, 50, 100}},
		{"comma string", `"10,50,100"`, TableField{10, 50, 100}},
		{"spaced string", `"10, 50 ,100"`, TableField{10, 50, 100}},
		{"empty string", `""`, TableField{}},
		{"null", `null`, TableField{}},
		{"malformed string", `"10,abc,100"`, TableField{}},
		{"malformed array", `[10, "x"]`, TableField{}},
		{"wrong type", `42`, TableField{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got TableField
			if err := json.Unmarshal([]byte(tt.input), &got); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.input, err)
			}
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Unmarshal(%s) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTableFieldMarshal(t *testing.T) {
	data, err := json.Marshal(TableField(nil))
	if err != nil {
		t.Fatalf("Marshal(nil) error = %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("Marshal(nil) = %s, want []", data)
	}

	data, err = json.Marshal(TableField{1, 2, 5})
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(data) != "[1,2,5]" {
		t.Errorf("Marshal = %s, want [1,2,5]", data)
	}
}

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name       string
		topic      string
		wantDevice string
		wantSuffix string
		wantOK     bool
	}{
		{"state report", "wsm/wsm-0042/server/state/info", "wsm-0042", "state/info", true},
		{"single segment suffix", "wsm/wsm-0042/server/setting", "wsm-0042", "setting", true},
		{"ack suffix", "wsm/wsm-0042/server/setting/ack", "wsm-0042", "setting/ack", true},
		{"own command echoed", "wsm/wsm-0042/client/setting/get", "", "", false},
		{"status topic", "wsm/system/status", "", "", false},
		{"too short", "wsm/wsm-0042", "", "", false},
		{"wrong root", "other/wsm-0042/server/setting", "", "", false},
		{"empty device id", "wsm//server/setting", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device, suffix, ok := ParseInbound("wsm", tt.topic)
			if ok != tt.wantOK {
				t.Fatalf("ParseInbound(%q) ok = %v, want %v", tt.topic, ok, tt.wantOK)
			}
			if device != tt.wantDevice || suffix != tt.wantSuffix {
				t.Errorf("ParseInbound(%q) = (%q, %q), want (%q, %q)",
					tt.topic, device, suffix, tt.wantDevice, tt.wantSuffix)
			}
		})
	}
}

func TestSettingsEnvelopeNormalization(t *testing.T) {
	max := 5000
	u := SettingsUpdate{MaxPayment: &max}

	data, err := json.Marshal(u.envelope(42))
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}

	if m["request_id"] != float64(42) {
		t.Errorf("request_id = %v, want 42", m["request_id"])
	}
	if m["maxPayment"] != float64(5000) {
		t.Errorf("maxPayment = %v, want 5000", m["maxPayment"])
	}
	// Absent fields go out as zero, never null.
	if m["spillAmount"] != float64(0) {
		t.Errorf("spillAmount = %v, want 0", m["spillAmount"])
	}
	if m["tariffPerLiter_1"] != float64(0) {
		t.Errorf("tariffPerLiter_1 = %v, want 0", m["tariffPerLiter_1"])
	}
}

func TestConfigEnvelopeNormalization(t *testing.T) {
	ssid := "pump-house"
	u := ConfigUpdate{
		WifiStaSSID: &ssid,
		CoinTable:   TableField{1, 2, 5},
	}

	data, err := json.Marshal(u.envelope(234))
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}

	if m["wifi_STA_ssid"] != "pump-house" {
		t.Errorf("wifi_STA_ssid = %v", m["wifi_STA_ssid"])
	}
	if m["ntp_server"] != "" {
		t.Errorf("ntp_server = %v, want empty string", m["ntp_server"])
	}
	if m["timeZone"] != float64(0) {
		t.Errorf("timeZone = %v, want 0", m["timeZone"])
	}
	// Absent table must be an empty array, not null.
	if bill, ok := m["bill_table"].([]any); !ok || len(bill) != 0 {
		t.Errorf("bill_table = %v, want []", m["bill_table"])
	}
	coin, ok := m["coin_table"].([]any)
	if !ok || len(coin) != 3 {
		t.Errorf("coin_table = %v, want 3 values", m["coin_table"])
	}
}

func TestClearPaymentEnvelope(t *testing.T) {
	data, err := json.Marshal(clearPaymentEnvelope{
		RequestID:  234,
		ClearFlags: AllClearFlags(),
	})
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}

	// Flags sit at the top level next to request_id.
	for _, flag := range []string{"CoinClear", "BillClear", "PrevClear", "FreeClear", "QRcodeClear", "PayPassClear"} {
		if m[flag] != true {
			t.Errorf("%s = %v, want true", flag, m[flag])
		}
	}
	if m["request_id"] != float64(234) {
		t.Errorf("request_id = %v, want 234", m["request_id"])
	}
}

func TestActionEnvelopeOmitsAbsentFields(t *testing.T) {
	pour := PourStart1
	data, err := json.Marshal(actionEnvelope{RequestID: 234, Pour: &pour})
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}

	if m["Pour"] != "Start_1" {
		t.Errorf("Pour = %v, want Start_1", m["Pour"])
	}
	if _, present := m["Blocking"]; present {
		t.Error("Blocking should be omitted when unset")
	}
}

func TestValidPour(t *testing.T) {
	for _, pour := range []string{PourStart1, PourStart2, PourStop} {
		if !ValidPour(pour) {
			t.Errorf("ValidPour(%q) = false, want true", pour)
		}
	}
	for _, pour := range []string{"", "start_1", "Start_3", "Pause"} {
		if ValidPour(pour) {
			t.Errorf("ValidPour(%q) = true, want false", pour)
		}
	}
}

func TestPaymentSource(t *testing.T) {
	tests := []struct {
		name string
		sale InboundSale
		want string
	}{
		{"coins only", InboundSale{AddCoin: 500}, "cash_coin"},
		{"bills only", InboundSale{AddBill: 100}, "cash_bill"},
		{"qr only", InboundSale{AddQR: 250}, "qr_code"},
		{"paypass only", InboundSale{AddPP: 300}, "paypass"},
		{"free only", InboundSale{AddFree: 50}, "free_credit"},
		{"mixed", InboundSale{AddCoin: 10, AddBill: 100, AddQR: 50}, "cash_coin, cash_bill, qr_code"},
		{"no credit", InboundSale{AddPrev: 20}, "unknown"},
		{"empty", InboundSale{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := paymentSource(tt.sale); got != tt.want {
				t.Errorf("paymentSource() = %q, want %q", got, tt.want)
			}
		})
	}
}
