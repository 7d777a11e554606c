package wsm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/vodomat/wsm-core/internal/device"
	"github.com/vodomat/wsm-core/internal/store"
)

// Financial events follow persist-then-ack: a sale or collection is
// acknowledged only after its row is durably stored, so the device
// keeps retransmitting anything the core has not yet recorded. The
// (device_id, external_id) uniqueness in the store makes the
// retransmissions idempotent.

// paymentSource derives a human-readable payment source from the
// nonzero credit fields of a sale, joined when several contributed.
func paymentSource(v InboundSale) string {
	var sources []string
	if v.AddCoin > 0 {
		sources = append(sources, "cash_coin")
	}
	if v.AddBill > 0 {
		sources = append(sources, "cash_bill")
	}
	if v.AddQR > 0 {
		sources = append(sources, "qr_code")
	}
	if v.AddPP > 0 {
		sources = append(sources, "paypass")
	}
	if v.AddFree > 0 {
		sources = append(sources, "free_credit")
	}
	if len(sources) == 0 {
		return "unknown"
	}
	return strings.Join(sources, ", ")
}

// saleAmount is the total credit consumed by a sale.
func saleAmount(v InboundSale) int {
	return v.AddCoin + v.AddBill + v.AddPrev + v.AddFree + v.AddQR + v.AddPP
}

func (r *Router) handleSale(ctx context.Context, sess *device.Session, payload []byte, now time.Time) {
	var v InboundSale
	if err := json.Unmarshal(payload, &v); err != nil {
		r.logger.Warn("malformed sale report", "device_id", sess.ID(), "error", err)
		return
	}

	rec := &store.SaleRecord{
		DeviceID:       sess.ID(),
		ExternalID:     v.ID,
		Created:        now,
		AddCoin:        v.AddCoin,
		AddBill:        v.AddBill,
		AddPrev:        v.AddPrev,
		AddFree:        v.AddFree,
		AddQR:          v.AddQR,
		AddPP:          v.AddPP,
		OutLiters1:     v.OutLiters1,
		OutLiters2:     v.OutLiters2,
		SaleType:       v.SaleType,
		CardCode:       v.CardCode,
		CardBalanceIn:  v.CardBalanceIn,
		CardBalanceOut: v.CardBalanceOut,
		PaymentSource:  paymentSource(v),
	}

	saved, created, err := r.store.SaveSale(ctx, rec)
	if err != nil {
		r.logger.Error("persisting sale", "device_id", sess.ID(), "external_id", v.ID, "error", err)
		return
	}

	if created {
		r.logger.Info("sale recorded",
			"device_id", sess.ID(), "external_id", v.ID,
			"amount", saleAmount(v), "source", saved.PaymentSource)
		if r.sink != nil {
			r.sink.WriteSale(sess.ID(), saleAmount(v), saved.PaymentSource)
		}
	} else {
		r.logger.Debug("sale retransmission", "device_id", sess.ID(), "external_id", v.ID)
	}

	if err := r.disp.SendSaleAck(ctx, sess.ID(), v.ID); err != nil {
		r.logger.Error("acknowledging sale", "device_id", sess.ID(), "external_id", v.ID, "error", err)
	}
}

func (r *Router) handleCollection(ctx context.Context, sess *device.Session, payload []byte, now time.Time) {
	var v InboundCollection
	if err := json.Unmarshal(payload, &v); err != nil {
		r.logger.Warn("malformed collection report", "device_id", sess.ID(), "error", err)
		return
	}

	rec := &store.CollectionRecord{
		DeviceID:   sess.ID(),
		ExternalID: v.ID,
		Created:    now,
		Coins:      [6]int{v.Coin1, v.Coin2, v.Coin3, v.Coin4, v.Coin5, v.Coin6},
		Bills:      [8]int{v.Bill1, v.Bill2, v.Bill3, v.Bill4, v.Bill5, v.Bill6, v.Bill7, v.Bill8},
		Amount:     v.Amount,
	}

	_, created, err := r.store.SaveCollection(ctx, rec)
	if err != nil {
		r.logger.Error("persisting collection", "device_id", sess.ID(), "external_id", v.ID, "error", err)
		return
	}

	if created {
		r.logger.Info("collection recorded",
			"device_id", sess.ID(), "external_id", v.ID, "amount", v.Amount)
		if r.sink != nil {
			r.sink.WriteCollection(sess.ID(), v.Amount)
		}
	} else {
		r.logger.Debug("collection retransmission", "device_id", sess.ID(), "external_id", v.ID)
	}

	if err := r.disp.SendCollectionAck(ctx, sess.ID(), v.ID); err != nil {
		r.logger.Error("acknowledging collection", "device_id", sess.ID(), "external_id", v.ID, "error", err)
	}
}
