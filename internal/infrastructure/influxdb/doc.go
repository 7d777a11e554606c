// Package influxdb provides InfluxDB connectivity for WSM Core.
//
// It wraps the official influxdb-client-go v2 library with WSM Core-specific
// patterns for connection management, telemetry writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Device state reports (operating mode, cash box, tank level, sensors)
//   - Sales and cash-collection events for revenue dashboards
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "vodomat",
//	    Bucket: "telemetry",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteDeviceState("wsm-0042", influxdb.StatePoint{
//	    OperatingMode: 1,
//	    CashBoxTotal:  12500,
//	    LitersInTank:  480,
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This reduces network overhead for chatty device fleets.
package influxdb
