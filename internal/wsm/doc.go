// Package wsm implements the device protocol core: command dispatch,
// inbound message routing, and command/ack correlation.
//
// Devices exchange JSON over MQTT under a shared topic root:
//
//	{root}/{deviceId}/client/{domain}/{verb}  commands to a device
//	{root}/{deviceId}/server/{suffix}         reports from a device
//
// The Dispatcher publishes commands. Before each publish it clears the
// matching ack slot in the device session (and for gets, invalidates
// the cached snapshot), so an ack or report observed afterwards is
// known to answer the latest command.
//
// The Router consumes everything under {root}/# through a bounded
// queue with a single consumer, preserving per-device arrival order.
// Reports update the in-memory session and are appended to the store;
// sale and incass events are acknowledged only after they are durably
// persisted, letting the device retransmit safely until the core has
// them.
package wsm
