// Package store provides the durable history layer for WSM Core.
//
// Every message a device sends is appended to SQLite: state, settings
// and config reports, acknowledgments, display lines, payments, sales,
// and cash collections. The device package keeps the fast in-memory
// view; this package is the record.
//
// # Financial idempotency
//
// Devices retransmit sale and collection reports until the core
// acknowledges them, so the same event can arrive many times. Sales
// and collections are keyed by (device_id, external_id) with a unique
// constraint; SaveSale and SaveCollection swallow the duplicate and
// return the original row so the caller can re-send the acknowledgment
// without double-counting revenue.
//
// # Usage
//
//	gw := store.NewSQLiteGateway(db.DB)
//
//	sale, created, err := gw.SaveSale(ctx, rec)
//	if err != nil {
//	    return err
//	}
//	// Ack regardless of created; mark it after the publish succeeds.
//	if err := publishAck(sale); err == nil {
//	    gw.MarkSaleAckSent(ctx, sale.ID)
//	}
package store
