package alert

import (
	"context"

	"github.com/Daskott/sentinel/server/models"
)

// GormStore persists alerts through the models package.
type GormStore struct{}

func (GormStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	return models.CreateAlert(ctx, alert)
}

func (GormStore) FetchAlertsByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Alert, error) {
	return models.FetchAlertsByUser(ctx, userID, limit, offset)
}
