package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/honeynil/AuthSessionService/internal/models"
	pkgerrors "github.com/honeynil/AuthSessionService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const defaultAuditLimit = 50

// PostgresAuditRepository stores the session event trail consumed from Kafka.
type PostgresAuditRepository struct {
	db *sql.DB
}

func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

func (r *PostgresAuditRepository) Record(ctx context.Context, event *models.SessionEvent) (id int64, err error) {
	ctx, span, done := startCall(ctx, "audit-repository", "RecordSessionEvent")
	defer done(&err)

	if event == nil {
		return 0, pkgerrors.ErrNilEvent
	}
	span.SetAttributes(
		attribute.String("type", string(event.Type)),
		attribute.String("user_id", event.UserID),
		attribute.String("session_id", event.SessionID),
	)

	query := `INSERT INTO session_audit (event_type, session_id, user_id, device_id, generation, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	err = r.db.QueryRowContext(ctx, query,
		string(event.Type),
		event.SessionID,
		event.UserID,
		event.DeviceID,
		event.Generation,
		event.Reason,
		event.OccurredAt,
	).Scan(&id)
	if err != nil {
		slog.Error("failed to record session event", "method", "Record", "type", event.Type, "error", err)
		return 0, fmt.Errorf("failed to record session event: %w", err)
	}

	event.ID = id
	return id, nil
}

func (r *PostgresAuditRepository) ListByUser(ctx context.Context, userID string, limit int) (events []models.SessionEvent, err error) {
	ctx, span, done := startCall(ctx, "audit-repository", "ListSessionEventsByUser")
	defer done(&err)
	span.SetAttributes(attribute.String("user_id", userID))

	if limit <= 0 {
		limit = defaultAuditLimit
	}

	query := `SELECT id, event_type, session_id, user_id, device_id, generation, reason, occurred_at
		FROM session_audit WHERE user_id = $1 ORDER BY occurred_at DESC, id DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list session events: %w", err)
	}
	defer rows.Close()

	events = []models.SessionEvent{}
	for rows.Next() {
		var e models.SessionEvent
		var eventType string
		if err = rows.Scan(&e.ID, &eventType, &e.SessionID, &e.UserID, &e.DeviceID, &e.Generation, &e.Reason, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		e.Type = models.SessionEventType(eventType)
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session events: %w", err)
	}
	return events, nil
}
