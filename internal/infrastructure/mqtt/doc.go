// Package mqtt provides MQTT client connectivity for WSM Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// WSM Core uses MQTT as the transport between the server and the fleet of
// vending devices. Devices publish on {root}/{deviceId}/server/... and
// listen on {root}/{deviceId}/client/...; the broker decouples the core
// from device connectivity.
//
//	WSM Core ↔ MQTT Broker ↔ Vending Devices
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all device traffic
//	err = client.Subscribe(mqtt.Topics{}.AllDevices(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish command
//	topic := mqtt.Topics{}.Command("wsm-0042", "setting", "get")
//	client.Publish(topic, []byte(`{"request_id":234,"fields":[]}`), 1, false)
package mqtt
