package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Gateway defines the persistence operations for device history and
// financial records. This abstraction allows for different
// implementations (SQLite, mock) and enables unit testing without
// database dependencies.
type Gateway interface {
	// GetOrCreateDevice returns the device row, creating it on first contact.
	GetOrCreateDevice(ctx context.Context, id string, seenAt time.Time) (*Device, error)

	// GetDevice retrieves a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetDevice(ctx context.Context, id string) (*Device, error)

	// ListDevices retrieves all known devices, oldest first contact first.
	ListDevices(ctx context.Context) ([]Device, error)

	// SetProviderKey stores the payment provider API key for a device.
	SetProviderKey(ctx context.Context, id string, key string) error

	// SaveState appends a state report.
	SaveState(ctx context.Context, rec *StateRecord) error

	// LatestState returns the most recent state report for a device.
	// Returns ErrNotFound if the device has never reported state.
	LatestState(ctx context.Context, deviceID string) (*StateRecord, error)

	// SaveSettings appends a settings report.
	SaveSettings(ctx context.Context, rec *SettingsRecord) error

	// LatestSettings returns the most recent settings report.
	LatestSettings(ctx context.Context, deviceID string) (*SettingsRecord, error)

	// SaveConfig appends a config report.
	SaveConfig(ctx context.Context, rec *ConfigRecord) error

	// LatestConfig returns the most recent config report.
	LatestConfig(ctx context.Context, deviceID string) (*ConfigRecord, error)

	// SaveAck appends an acknowledgment.
	SaveAck(ctx context.Context, rec *AckMessage) error

	// LatestAck returns the most recent ack of a given type.
	LatestAck(ctx context.Context, deviceID, messageType string) (*AckMessage, error)

	// SaveDisplay appends a display report.
	SaveDisplay(ctx context.Context, rec *DisplayRecord) error

	// LatestDisplay returns the most recent display report.
	LatestDisplay(ctx context.Context, deviceID string) (*DisplayRecord, error)

	// SavePayment appends a payment. The record's ID is set on return.
	SavePayment(ctx context.Context, rec *PaymentRecord) error

	// ConfirmPayment marks a pending payment as confirmed.
	ConfirmPayment(ctx context.Context, id int64, at time.Time) error

	// OldestPendingPayment returns the oldest pending payment for a device.
	// Returns ErrNotFound if there are no pending payments.
	OldestPendingPayment(ctx context.Context, deviceID string) (*PaymentRecord, error)

	// ListPayments returns the most recent payments for a device, newest first.
	ListPayments(ctx context.Context, deviceID string, limit int) ([]PaymentRecord, error)

	// SaveSale inserts a sale if its (device_id, external_id) pair is new.
	// On a duplicate it returns the previously stored row and created=false.
	SaveSale(ctx context.Context, rec *SaleRecord) (saved *SaleRecord, created bool, err error)

	// GetSale retrieves a sale by its device-assigned number.
	GetSale(ctx context.Context, deviceID string, externalID int) (*SaleRecord, error)

	// MarkSaleAckSent records that the sale's acknowledgment was published.
	MarkSaleAckSent(ctx context.Context, id int64) error

	// ListSales returns the most recent sales for a device, newest first.
	ListSales(ctx context.Context, deviceID string, limit int) ([]SaleRecord, error)

	// SaveCollection inserts a cash-collection event if new, mirroring SaveSale.
	SaveCollection(ctx context.Context, rec *CollectionRecord) (saved *CollectionRecord, created bool, err error)

	// GetCollection retrieves a collection by its device-assigned number.
	GetCollection(ctx context.Context, deviceID string, externalID int) (*CollectionRecord, error)

	// MarkCollectionAckSent records that the collection's ack was published.
	MarkCollectionAckSent(ctx context.Context, id int64) error

	// ListCollections returns the most recent collections, newest first.
	ListCollections(ctx context.Context, deviceID string, limit int) ([]CollectionRecord, error)
}

// SQLiteGateway implements Gateway using SQLite.
type SQLiteGateway struct {
	db *sql.DB
}

// NewSQLiteGateway creates a new SQLite-backed gateway.
// The db parameter should be an open SQLite connection with the
// schema migrated.
func NewSQLiteGateway(db *sql.DB) *SQLiteGateway {
	return &SQLiteGateway{db: db}
}

// defaultListLimit bounds list queries when the caller passes limit <= 0.
const defaultListLimit = 100

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// execer is the subset of *sql.DB and *sql.Tx the write helpers need.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ensureDevice upserts the device row and refreshes last_seen.
func ensureDevice(ctx context.Context, ex execer, id string, seenAt time.Time) error {
	query := `
		INSERT INTO devices (id, last_seen) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET last_seen = excluded.last_seen`

	if _, err := ex.ExecContext(ctx, query, id, fmtTime(seenAt)); err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction. Every save pairs a device upsert
// with its insert; the pair commits or rolls back together.
func (g *SQLiteGateway) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetOrCreateDevice returns the device row, creating it on first contact.
func (g *SQLiteGateway) GetOrCreateDevice(ctx context.Context, id string, seenAt time.Time) (*Device, error) {
	if err := ensureDevice(ctx, g.db, id, seenAt); err != nil {
		return nil, err
	}
	return g.GetDevice(ctx, id)
}

// GetDevice retrieves a device by ID.
func (g *SQLiteGateway) GetDevice(ctx context.Context, id string) (*Device, error) {
	query := `SELECT id, last_seen, COALESCE(provider_api_key, '') FROM devices WHERE id = ?`

	var d Device
	var lastSeen string
	err := g.db.QueryRowContext(ctx, query, id).Scan(&d.ID, &lastSeen, &d.ProviderAPIKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	d.LastSeen = parseTime(lastSeen)
	return &d, nil
}

// ListDevices retrieves all known devices.
func (g *SQLiteGateway) ListDevices(ctx context.Context) ([]Device, error) {
	query := `SELECT id, last_seen, COALESCE(provider_api_key, '') FROM devices ORDER BY id`

	rows, err := g.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		var lastSeen string
		if err := rows.Scan(&d.ID, &lastSeen, &d.ProviderAPIKey); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		d.LastSeen = parseTime(lastSeen)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// SetProviderKey stores the payment provider API key for a device.
func (g *SQLiteGateway) SetProviderKey(ctx context.Context, id string, key string) error {
	res, err := g.db.ExecContext(ctx,
		`UPDATE devices SET provider_api_key = ? WHERE id = ?`, key, id)
	if err != nil {
		return fmt.Errorf("setting provider key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("setting provider key: %w", err)
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// SaveState appends a state report.
func (g *SQLiteGateway) SaveState(ctx context.Context, rec *StateRecord) error {
	query := `
		INSERT INTO device_states (
			device_id, created, operating_mode, summa_in_box, liters_in_tank,
			tank_low_level_sensor, tank_high_level_sensor, deposit_box_sensor,
			door_sensor, coin_state, bill_state, errors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return g.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureDevice(ctx, tx, rec.DeviceID, rec.Created); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query,
			rec.DeviceID, fmtTime(rec.Created), rec.OperatingMode, rec.SummaInBox,
			rec.LitersInTank, rec.TankLowLevelSensor, rec.TankHighLevelSensor,
			rec.DepositBoxSensor, rec.DoorSensor, rec.CoinState, rec.BillState,
			rec.Errors,
		)
		if err != nil {
			return fmt.Errorf("inserting state: %w", err)
		}
		rec.ID, _ = res.LastInsertId()
		return nil
	})
}

// LatestState returns the most recent state report for a device.
func (g *SQLiteGateway) LatestState(ctx context.Context, deviceID string) (*StateRecord, error) {
	query := `
		SELECT id, device_id, created, operating_mode, summa_in_box, liters_in_tank,
			tank_low_level_sensor, tank_high_level_sensor, deposit_box_sensor,
			door_sensor, coin_state, bill_state, COALESCE(errors, '')
		FROM device_states
		WHERE device_id = ?
		ORDER BY id DESC
		LIMIT 1`

	var rec StateRecord
	var created string
	err := g.db.QueryRowContext(ctx, query, deviceID).Scan(
		&rec.ID, &rec.DeviceID, &created, &rec.OperatingMode, &rec.SummaInBox,
		&rec.LitersInTank, &rec.TankLowLevelSensor, &rec.TankHighLevelSensor,
		&rec.DepositBoxSensor, &rec.DoorSensor, &rec.CoinState, &rec.BillState,
		&rec.Errors,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying latest state: %w", err)
	}
	rec.Created = parseTime(created)
	return &rec, nil
}

// SaveSettings appends a settings report.
func (g *SQLiteGateway) SaveSettings(ctx context.Context, rec *SettingsRecord) error {
	query := `
		INSERT INTO device_settings (
			device_id, created, request_id, max_payment, min_pay_pass,
			max_pay_pass, delta_pay_pass, tariff_per_liter_1, tariff_per_liter_2,
			pulses_per_liter_1, pulses_per_liter_2, pulses_per_liter_3,
			time_one_pay, liters_in_full_tank, time_servis_mode, spill_timer,
			spill_amount
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return g.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureDevice(ctx, tx, rec.DeviceID, rec.Created); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query,
			rec.DeviceID, fmtTime(rec.Created), rec.RequestID, rec.MaxPayment,
			rec.MinPayPass, rec.MaxPayPass, rec.DeltaPayPass, rec.TariffPerLiter1,
			rec.TariffPerLiter2, rec.PulsesPerLiter1, rec.PulsesPerLiter2,
			rec.PulsesPerLiter3, rec.TimeOnePay, rec.LitersInFullTank,
			rec.TimeServisMode, rec.SpillTimer, rec.SpillAmount,
		)
		if err != nil {
			return fmt.Errorf("inserting settings: %w", err)
		}
		rec.ID, _ = res.LastInsertId()
		return nil
	})
}

// LatestSettings returns the most recent settings report.
func (g *SQLiteGateway) LatestSettings(ctx context.Context, deviceID string) (*SettingsRecord, error) {
	query := `
		SELECT id, device_id, created, request_id, max_payment, min_pay_pass,
			max_pay_pass, delta_pay_pass, tariff_per_liter_1, tariff_per_liter_2,
			pulses_per_liter_1, pulses_per_liter_2, pulses_per_liter_3,
			time_one_pay, liters_in_full_tank, time_servis_mode, spill_timer,
			spill_amount
		FROM device_settings
		WHERE device_id = ?
		ORDER BY id DESC
		LIMIT 1`

	var rec SettingsRecord
	var created string
	err := g.db.QueryRowContext(ctx, query, deviceID).Scan(
		&rec.ID, &rec.DeviceID, &created, &rec.RequestID, &rec.MaxPayment,
		&rec.MinPayPass, &rec.MaxPayPass, &rec.DeltaPayPass, &rec.TariffPerLiter1,
		&rec.TariffPerLiter2, &rec.PulsesPerLiter1, &rec.PulsesPerLiter2,
		&rec.PulsesPerLiter3, &rec.TimeOnePay, &rec.LitersInFullTank,
		&rec.TimeServisMode, &rec.SpillTimer, &rec.SpillAmount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying latest settings: %w", err)
	}
	rec.Created = parseTime(created)
	return &rec, nil
}

// SaveConfig appends a config report.
func (g *SQLiteGateway) SaveConfig(ctx context.Context, rec *ConfigRecord) error {
	query := `
		INSERT INTO device_configs (
			device_id, created, request_id, wifi_sta_ssid, wifi_sta_pass,
			ntp_server, time_zone, broker_uri, broker_port, broker_user,
			broker_pass, ota_server, ota_port, bill_table, coin_table,
			coin_validator_type, coin_pulse_price
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return g.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureDevice(ctx, tx, rec.DeviceID, rec.Created); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query,
			rec.DeviceID, fmtTime(rec.Created), rec.RequestID, rec.WifiStaSSID,
			rec.WifiStaPass, rec.NTPServer, rec.TimeZone, rec.BrokerURI,
			rec.BrokerPort, rec.BrokerUser, rec.BrokerPass, rec.OTAServer,
			rec.OTAPort, rec.BillTable, rec.CoinTable, rec.CoinValidatorType,
			rec.CoinPulsePrice,
		)
		if err != nil {
			return fmt.Errorf("inserting config: %w", err)
		}
		rec.ID, _ = res.LastInsertId()
		return nil
	})
}

// LatestConfig returns the most recent config report.
func (g *SQLiteGateway) LatestConfig(ctx context.Context, deviceID string) (*ConfigRecord, error) {
	query := `
		SELECT id, device_id, created, request_id, COALESCE(wifi_sta_ssid, ''),
			COALESCE(wifi_sta_pass, ''), COALESCE(ntp_server, ''), time_zone,
			COALESCE(broker_uri, ''), broker_port, COALESCE(broker_user, ''),
			COALESCE(broker_pass, ''), COALESCE(ota_server, ''), ota_port,
			COALESCE(bill_table, '[]'), COALESCE(coin_table, '[]'),
			COALESCE(coin_validator_type, ''), coin_pulse_price
		FROM device_configs
		WHERE device_id = ?
		ORDER BY id DESC
		LIMIT 1`

	var rec ConfigRecord
	var created string
	err := g.db.QueryRowContext(ctx, query, deviceID).Scan(
		&rec.ID, &rec.DeviceID, &created, &rec.RequestID, &rec.WifiStaSSID,
		&rec.WifiStaPass, &rec.NTPServer, &rec.TimeZone, &rec.BrokerURI,
		&rec.BrokerPort, &rec.BrokerUser, &rec.BrokerPass, &rec.OTAServer,
		&rec.OTAPort, &rec.BillTable, &rec.CoinTable, &rec.CoinValidatorType,
		&rec.CoinPulsePrice,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying latest config: %w", err)
	}
	rec.Created = parseTime(created)
	return &rec, nil
}

// SaveAck appends an acknowledgment.
func (g *SQLiteGateway) SaveAck(ctx context.Context, rec *AckMessage) error {
	return g.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureDevice(ctx, tx, rec.DeviceID, rec.Created); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO ack_messages (device_id, created, message_type, code, message)
			VALUES (?, ?, ?, ?, ?)`,
			rec.DeviceID, fmtTime(rec.Created), rec.MessageType, rec.Code, rec.Message,
		)
		if err != nil {
			return fmt.Errorf("inserting ack: %w", err)
		}
		rec.ID, _ = res.LastInsertId()
		return nil
	})
}

// LatestAck returns the most recent ack of a given type.
func (g *SQLiteGateway) LatestAck(ctx context.Context, deviceID, messageType string) (*AckMessage, error) {
	query := `
		SELECT id, device_id, created, message_type, code, COALESCE(message, '')
		FROM ack_messages
		WHERE device_id = ? AND message_type = ?
		ORDER BY id DESC
		LIMIT 1`

	var rec AckMessage
	var created string
	err := g.db.QueryRowContext(ctx, query, deviceID, messageType).Scan(
		&rec.ID, &rec.DeviceID, &created, &rec.MessageType, &rec.Code, &rec.Message,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying latest ack: %w", err)
	}
	rec.Created = parseTime(created)
	return &rec, nil
}

// SaveDisplay appends a display report.
func (g *SQLiteGateway) SaveDisplay(ctx context.Context, rec *DisplayRecord) error {
	return g.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureDevice(ctx, tx, rec.DeviceID, rec.Created); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO display_info (device_id, created, line_1, line_2)
			VALUES (?, ?, ?, ?)`,
			rec.DeviceID, fmtTime(rec.Created), rec.Line1, rec.Line2,
		)
		if err != nil {
			return fmt.Errorf("inserting display: %w", err)
		}
		rec.ID, _ = res.LastInsertId()
		return nil
	})
}

// LatestDisplay returns the most recent display report.
func (g *SQLiteGateway) LatestDisplay(ctx context.Context, deviceID string) (*DisplayRecord, error) {
	query := `
		SELECT id, device_id, created, COALESCE(line_1, ''), COALESCE(line_2, '')
		FROM display_info
		WHERE device_id = ?
		ORDER BY id DESC
		LIMIT 1`

	var rec DisplayRecord
	var created string
	err := g.db.QueryRowContext(ctx, query, deviceID).Scan(
		&rec.ID, &rec.DeviceID, &created, &rec.Line1, &rec.Line2,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying latest display: %w", err)
	}
	rec.Created = parseTime(created)
	return &rec, nil
}

// SavePayment appends a payment.
func (g *SQLiteGateway) SavePayment(ctx context.Context, rec *PaymentRecord) error {
	var confirmedAt any
	if rec.ConfirmedAt != nil {
		confirmedAt = fmtTime(*rec.ConfirmedAt)
	}
	if rec.Status == "" {
		rec.Status = PaymentPending
	}

	return g.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureDevice(ctx, tx, rec.DeviceID, rec.Created); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO payments (device_id, created, amount, payment_type, order_id, status, confirmed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.DeviceID, fmtTime(rec.Created), rec.Amount, rec.PaymentType,
			rec.OrderID, rec.Status, confirmedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting payment: %w", err)
		}
		rec.ID, _ = res.LastInsertId()
		return nil
	})
}

// ConfirmPayment marks a pending payment as confirmed.
func (g *SQLiteGateway) ConfirmPayment(ctx context.Context, id int64, at time.Time) error {
	res, err := g.db.ExecContext(ctx, `
		UPDATE payments SET status = ?, confirmed_at = ?
		WHERE id = ? AND status = ?`,
		PaymentConfirmed, fmtTime(at), id, PaymentPending,
	)
	if err != nil {
		return fmt.Errorf("confirming payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("confirming payment: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// OldestPendingPayment returns the oldest pending payment for a device.
func (g *SQLiteGateway) OldestPendingPayment(ctx context.Context, deviceID string) (*PaymentRecord, error) {
	query := `
		SELECT id, device_id, created, amount, payment_type, COALESCE(order_id, ''), status
		FROM payments
		WHERE device_id = ? AND status = ?
		ORDER BY id ASC
		LIMIT 1`

	var rec PaymentRecord
	var created string
	err := g.db.QueryRowContext(ctx, query, deviceID, PaymentPending).Scan(
		&rec.ID, &rec.DeviceID, &created, &rec.Amount, &rec.PaymentType,
		&rec.OrderID, &rec.Status,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying pending payment: %w", err)
	}
	rec.Created = parseTime(created)
	return &rec, nil
}

// ListPayments returns the most recent payments for a device.
func (g *SQLiteGateway) ListPayments(ctx context.Context, deviceID string, limit int) ([]PaymentRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, device_id, created, amount, payment_type, COALESCE(order_id, ''),
			status, confirmed_at
		FROM payments
		WHERE device_id = ?
		ORDER BY id DESC
		LIMIT ?`

	rows, err := g.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	defer rows.Close()

	var payments []PaymentRecord
	for rows.Next() {
		var rec PaymentRecord
		var created string
		var confirmedAt sql.NullString
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &created, &rec.Amount,
			&rec.PaymentType, &rec.OrderID, &rec.Status, &confirmedAt); err != nil {
			return nil, fmt.Errorf("scanning payment: %w", err)
		}
		rec.Created = parseTime(created)
		if confirmedAt.Valid {
			t := parseTime(confirmedAt.String)
			rec.ConfirmedAt = &t
		}
		payments = append(payments, rec)
	}
	return payments, rows.Err()
}

// SaveSale inserts a sale if its (device_id, external_id) pair is new.
//
// Devices retransmit sale reports until acknowledged, so duplicates are
// normal operation: the previously stored row is returned unchanged and
// the caller re-sends the acknowledgment.
func (g *SQLiteGateway) SaveSale(ctx context.Context, rec *SaleRecord) (*SaleRecord, bool, error) {
	query := `
		INSERT INTO sales (
			device_id, external_id, created, add_coin, add_bill, add_prev,
			add_free, add_qr, add_pp, out_liters_1, out_liters_2, sale_type,
			card_code, card_balance_in, card_balance_out, payment_source, ack_sent
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`

	err := g.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureDevice(ctx, tx, rec.DeviceID, rec.Created); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query,
			rec.DeviceID, rec.ExternalID, fmtTime(rec.Created), rec.AddCoin,
			rec.AddBill, rec.AddPrev, rec.AddFree, rec.AddQR, rec.AddPP,
			rec.OutLiters1, rec.OutLiters2, rec.SaleType, rec.CardCode,
			rec.CardBalanceIn, rec.CardBalanceOut, rec.PaymentSource,
		)
		if err != nil {
			return fmt.Errorf("inserting sale: %w", err)
		}
		rec.ID, _ = res.LastInsertId()
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := g.GetSale(ctx, rec.DeviceID, rec.ExternalID)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return rec, true, nil
}

// GetSale retrieves a sale by its device-assigned number.
func (g *SQLiteGateway) GetSale(ctx context.Context, deviceID string, externalID int) (*SaleRecord, error) {
	query := `
		SELECT id, device_id, external_id, created, add_coin, add_bill, add_prev,
			add_free, add_qr, add_pp, out_liters_1, out_liters_2,
			COALESCE(sale_type, 0), COALESCE(card_code, ''),
			COALESCE(card_balance_in, 0), COALESCE(card_balance_out, 0),
			payment_source, ack_sent
		FROM sales
		WHERE device_id = ? AND external_id = ?`

	row := g.db.QueryRowContext(ctx, query, deviceID, externalID)
	rec, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying sale: %w", err)
	}
	return rec, nil
}

// MarkSaleAckSent records that the sale's acknowledgment was published.
func (g *SQLiteGateway) MarkSaleAckSent(ctx context.Context, id int64) error {
	res, err := g.db.ExecContext(ctx, `UPDATE sales SET ack_sent = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking sale ack: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking sale ack: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSales returns the most recent sales for a device.
func (g *SQLiteGateway) ListSales(ctx context.Context, deviceID string, limit int) ([]SaleRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, device_id, external_id, created, add_coin, add_bill, add_prev,
			add_free, add_qr, add_pp, out_liters_1, out_liters_2,
			COALESCE(sale_type, 0), COALESCE(card_code, ''),
			COALESCE(card_balance_in, 0), COALESCE(card_balance_out, 0),
			payment_source, ack_sent
		FROM sales
		WHERE device_id = ?
		ORDER BY id DESC
		LIMIT ?`

	rows, err := g.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sales: %w", err)
	}
	defer rows.Close()

	var sales []SaleRecord
	for rows.Next() {
		rec, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sale: %w", err)
		}
		sales = append(sales, *rec)
	}
	return sales, rows.Err()
}

// SaveCollection inserts a cash-collection event if new, mirroring SaveSale.
func (g *SQLiteGateway) SaveCollection(ctx context.Context, rec *CollectionRecord) (*CollectionRecord, bool, error) {
	query := `
		INSERT INTO collections (
			device_id, external_id, created,
			coin_1, coin_2, coin_3, coin_4, coin_5, coin_6,
			bill_1, bill_2, bill_3, bill_4, bill_5, bill_6, bill_7, bill_8,
			amount, ack_sent
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`

	err := g.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureDevice(ctx, tx, rec.DeviceID, rec.Created); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query,
			rec.DeviceID, rec.ExternalID, fmtTime(rec.Created),
			rec.Coins[0], rec.Coins[1], rec.Coins[2], rec.Coins[3], rec.Coins[4], rec.Coins[5],
			rec.Bills[0], rec.Bills[1], rec.Bills[2], rec.Bills[3], rec.Bills[4],
			rec.Bills[5], rec.Bills[6], rec.Bills[7],
			rec.Amount,
		)
		if err != nil {
			return fmt.Errorf("inserting collection: %w", err)
		}
		rec.ID, _ = res.LastInsertId()
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := g.GetCollection(ctx, rec.DeviceID, rec.ExternalID)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return rec, true, nil
}

// GetCollection retrieves a collection by its device-assigned number.
func (g *SQLiteGateway) GetCollection(ctx context.Context, deviceID string, externalID int) (*CollectionRecord, error) {
	query := `
		SELECT id, device_id, external_id, created,
			coin_1, coin_2, coin_3, coin_4, coin_5, coin_6,
			bill_1, bill_2, bill_3, bill_4, bill_5, bill_6, bill_7, bill_8,
			amount, ack_sent
		FROM collections
		WHERE device_id = ? AND external_id = ?`

	row := g.db.QueryRowContext(ctx, query, deviceID, externalID)
	rec, err := scanCollection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying collection: %w", err)
	}
	return rec, nil
}

// MarkCollectionAckSent records that the collection's ack was published.
func (g *SQLiteGateway) MarkCollectionAckSent(ctx context.Context, id int64) error {
	res, err := g.db.ExecContext(ctx, `UPDATE collections SET ack_sent = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking collection ack: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking collection ack: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCollections returns the most recent collections for a device.
func (g *SQLiteGateway) ListCollections(ctx context.Context, deviceID string, limit int) ([]CollectionRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, device_id, external_id, created,
			coin_1, coin_2, coin_3, coin_4, coin_5, coin_6,
			bill_1, bill_2, bill_3, bill_4, bill_5, bill_6, bill_7, bill_8,
			amount, ack_sent
		FROM collections
		WHERE device_id = ?
		ORDER BY id DESC
		LIMIT ?`

	rows, err := g.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var collections []CollectionRecord
	for rows.Next() {
		rec, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning collection: %w", err)
		}
		collections = append(collections, *rec)
	}
	return collections, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanSale(s scanner) (*SaleRecord, error) {
	var rec SaleRecord
	var created string
	var ackSent int
	err := s.Scan(
		&rec.ID, &rec.DeviceID, &rec.ExternalID, &created, &rec.AddCoin,
		&rec.AddBill, &rec.AddPrev, &rec.AddFree, &rec.AddQR, &rec.AddPP,
		&rec.OutLiters1, &rec.OutLiters2, &rec.SaleType, &rec.CardCode,
		&rec.CardBalanceIn, &rec.CardBalanceOut, &rec.PaymentSource, &ackSent,
	)
	if err != nil {
		return nil, err
	}
	rec.Created = parseTime(created)
	rec.AckSent = ackSent != 0
	return &rec, nil
}

func scanCollection(s scanner) (*CollectionRecord, error) {
	var rec CollectionRecord
	var created string
	var ackSent int
	err := s.Scan(
		&rec.ID, &rec.DeviceID, &rec.ExternalID, &created,
		&rec.Coins[0], &rec.Coins[1], &rec.Coins[2], &rec.Coins[3], &rec.Coins[4], &rec.Coins[5],
		&rec.Bills[0], &rec.Bills[1], &rec.Bills[2], &rec.Bills[3], &rec.Bills[4],
		&rec.Bills[5], &rec.Bills[6], &rec.Bills[7],
		&rec.Amount, &ackSent,
	)
	if err != nil {
		return nil, err
	}
	rec.Created = parseTime(created)
	rec.AckSent = ackSent != 0
	return &rec, nil
}
