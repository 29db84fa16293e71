package cron

import (
	"context"
	"fmt"

	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
)

const defaultLowStockLimit = 200

type lowStockSource interface {
	LowStock(ctx context.Context, limit int) ([]models.InventoryEntry, error)
}

func NewLowStockJob(logg *logger.Logger, source lowStockSource, limit int) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if source == nil {
		return nil, fmt.Errorf("inventory source required")
	}
	if limit <= 0 {
		limit = defaultLowStockLimit
	}
	return &lowStockJob{logg: logg, source: source, limit: limit}, nil
}

// lowStockJob logs inventory rows at or below their minimum threshold.
type lowStockJob struct {
	logg   *logger.Logger
	source lowStockSource
	limit  int
}

func (j *lowStockJob) Name() string { return "low-stock-scan" }

func (j *lowStockJob) Run(ctx context.Context) error {
	entries, err := j.source.LowStock(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("scan low stock: %w", err)
	}
	for _, entry := range entries {
		entryCtx := j.logg.WithPharmacyID(ctx, entry.PharmacyID.String())
		entryCtx = j.logg.WithFields(entryCtx, map[string]any{
			"medicine_id": entry.MedicineID.String(),
			"stock":       entry.Stock,
			"threshold":   entry.MinStockThreshold,
		})
		j.logg.Warn(entryCtx, "inventory below minimum stock")
	}
	j.logg.Info(j.logg.WithField(ctx, "low_stock_rows", len(entries)), "low stock scan complete")
	return nil
}
