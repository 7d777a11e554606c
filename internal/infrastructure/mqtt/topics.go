package mqtt

import "fmt"

// DefaultTopicRoot is the topic namespace used when no root is configured.
// All device traffic lives under root/{deviceId}/...
const DefaultTopicRoot = "wsm"

// Topics provides builders for WSM MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// Topic scheme:
//
//	{root}/{deviceId}/client/{domain}/{verb}  commands to devices
//	{root}/{deviceId}/server/{suffix}         messages from devices
//
// Example:
//
//	topics := mqtt.Topics{Root: "wsm"}
//	topic := topics.Command("wsm-0042", "setting", "get")
//	// Returns: "wsm/wsm-0042/client/setting/get"
type Topics struct {
	// Root is the topic namespace. Empty means DefaultTopicRoot.
	Root string
}

func (t Topics) root() string {
	if t.Root == "" {
		return DefaultTopicRoot
	}
	return t.Root
}

// Command returns the topic for a command to a device.
//
// Example: wsm/wsm-0042/client/payment/set
func (t Topics) Command(deviceID, domain, verb string) string {
	return fmt.Sprintf("%s/%s/client/%s/%s", t.root(), deviceID, domain, verb)
}

// Server returns the topic a device publishes a given suffix on.
// Used by tests and tooling; the core only subscribes via AllDevices.
//
// Example: wsm/wsm-0042/server/state/info
func (t Topics) Server(deviceID, suffix string) string {
	return fmt.Sprintf("%s/%s/server/%s", t.root(), deviceID, suffix)
}

// AllDevices returns the wildcard pattern matching all traffic under the root.
// The router filters out non-server topics after matching.
//
// Pattern: wsm/#
func (t Topics) AllDevices() string {
	return t.root() + "/#"
}

// SystemStatus returns the topic carrying the core's own online/offline status.
// "system" is a reserved segment; no device may use it as an id.
//
// Example: wsm/system/status
func (t Topics) SystemStatus() string {
	return t.root() + "/system/status"
}
