package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"gridexecutor/src/database"
	"gridexecutor/src/model"
)

// AnalyzerSnapshotRepository persists runtime snapshots of simulated instances.
type AnalyzerSnapshotRepository struct {
	db *gorm.DB
}

func NewAnalyzerSnapshotRepository() *AnalyzerSnapshotRepository {
	return &AnalyzerSnapshotRepository{db: database.MainDB}
}

func NewAnalyzerSnapshotRepositoryWithDB(db *gorm.DB) *AnalyzerSnapshotRepository {
	return &AnalyzerSnapshotRepository{db: db}
}

func (r *AnalyzerSnapshotRepository) Create(ctx context.Context, snap *model.AnalyzerSnapshot) error {
	return r.db.WithContext(ctx).Create(snap).Error
}

// CreateBatch stores many snapshots in one statement.
func (r *AnalyzerSnapshotRepository) CreateBatch(ctx context.Context, snaps []*model.AnalyzerSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(snaps, 100).Error
}

// Latest returns the newest snapshot of an instance, or nil, nil when none exists.
func (r *AnalyzerSnapshotRepository) Latest(ctx context.Context, instanceID string) (*model.AnalyzerSnapshot, error) {
	var snap model.AnalyzerSnapshot
	err := r.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("taken_at DESC").
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
