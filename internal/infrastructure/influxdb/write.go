package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// StatePoint carries the numeric state of a vending device for one
// state/info report. Sensor values are written as integers (0/1) so
// they can be graphed alongside the counters.
type StatePoint struct {
	OperatingMode int
	CashBoxTotal  int
	LitersInTank  int
	TankLowLevel  int
	TankHighLevel int
	DepositBox    int
	DoorSensor    int
	CoinState     int
	BillState     int
}

// WriteDeviceState writes one state/info report to InfluxDB.
//
// This is the primary method for recording device telemetry.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteDeviceState("wsm-0042", influxdb.StatePoint{
//	    OperatingMode: 1,
//	    CashBoxTotal:  12500,
//	    LitersInTank:  480,
//	})
func (c *Client) WriteDeviceState(deviceID string, p StatePoint) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"operating_mode":   p.OperatingMode,
			"cash_box_total":   p.CashBoxTotal,
			"liters_in_tank":   p.LitersInTank,
			"tank_low_level":   p.TankLowLevel,
			"tank_high_level":  p.TankHighLevel,
			"deposit_box":      p.DepositBox,
			"door_sensor":      p.DoorSensor,
			"coin_state":       p.CoinState,
			"bill_state":       p.BillState,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSale writes a completed sale for revenue dashboards.
//
// Parameters:
//   - deviceID: Device identifier
//   - amount: Total sale amount in minor currency units
//   - source: Payment source label (e.g., "cash_coin", "qr_code")
func (c *Client) WriteSale(deviceID string, amount int, source string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sales",
		map[string]string{
			"device_id":      deviceID,
			"payment_source": source,
		},
		map[string]interface{}{
			"amount": amount,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCollection writes a cash-collection event.
//
// Parameters:
//   - deviceID: Device identifier
//   - amount: Total collected amount in minor currency units
func (c *Client) WriteCollection(deviceID string, amount int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"collections",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"amount": amount,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

