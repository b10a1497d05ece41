package storage

import (
	"fmt"
	"time"
)

// DeliveryLog owns DeliveryRecord persistence. It doubles as the dedup
// guard: a successful record for a (payload hash, channel) pair suppresses
// redelivery to that channel.
type DeliveryLog struct {
	db *Database
}

// NewDeliveryLog creates a new delivery log.
func NewDeliveryLog(db *Database) *DeliveryLog {
	return &DeliveryLog{db: db}
}

// AlreadyDelivered reports whether the event identified by the payload hash
// was already delivered successfully to the channel. Failed attempts do not
// count; a redelivery after a failure gets another try.
func (l *DeliveryLog) AlreadyDelivered(payloadHash string, channelID int64) (bool, error) {
	var count int
	err := l.db.Get(&count, `
		SELECT COUNT(*) FROM delivery_log
		WHERE payload_hash = ? AND channel_id = ? AND success = 1`,
		payloadHash, channelID)
	if err != nil {
		return false, fmt.Errorf("failed to check delivery log: %w", err)
	}
	return count > 0, nil
}

// Record appends a delivery attempt. The record's ID is populated on return.
func (l *DeliveryLog) Record(rec *DeliveryRecord) error {
	if rec.DeliveredAt.IsZero() {
		rec.DeliveredAt = time.Now().UTC()
	}
	result, err := l.db.Exec(`
		INSERT INTO delivery_log
			(event_kind, repository_id, server_id, channel_id, delivered_at, payload_hash, success, error_detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventKind, rec.RepositoryID, rec.ServerID, rec.ChannelID,
		rec.DeliveredAt, rec.PayloadHash, rec.Success, rec.ErrorDetail)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	rec.ID, err = result.LastInsertId()
	return err
}

// RecentFailures returns the most recent failed deliveries for auditing.
func (l *DeliveryLog) RecentFailures(limit int) ([]DeliveryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []DeliveryRecord
	err := l.db.Select(&recs, `
		SELECT * FROM delivery_log
		WHERE success = 0
		ORDER BY delivered_at DESC, id DESC
		LIMIT ?`,
		limit)
	return recs, err
}

// Recent returns the most recent deliveries regardless of outcome.
func (l *DeliveryLog) Recent(limit int) ([]DeliveryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []DeliveryRecord
	err := l.db.Select(&recs, `
		SELECT * FROM delivery_log
		ORDER BY delivered_at DESC, id DESC
		LIMIT ?`,
		limit)
	return recs, err
}

// Cleanup removes delivery records older than the retention window to keep
// the dedup index from growing without bound.
func (l *DeliveryLog) Cleanup(daysToKeep int) (int64, error) {
	result, err := l.db.Exec(
		`DELETE FROM delivery_log WHERE delivered_at < datetime('now', '-' || ? || ' days')`,
		daysToKeep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
