package repository

import (
	"context"

	"github.com/honeynil/AuthSessionService/internal/models"
)

type AuditRepository interface {
	Record(ctx context.Context, event *models.SessionEvent) (int64, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.SessionEvent, error)
}
