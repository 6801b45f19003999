package repository

import (
	"context"

	"gorm.io/gorm"
	"skywatch/internal/model"
)

// DeviceRepository device repository interface
type DeviceRepository interface {
	// List devices registered for a user
	ListByUser(ctx context.Context, userID uint64) ([]model.Device, error)

	// Insert or update a device, matched by (user, name)
	Upsert(ctx context.Context, device *model.Device) error

	// Delete a device; used when the push transport rejects its token
	Delete(ctx context.Context, id uint64) error
}

// deviceRepository device repository implementation
type deviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

// ListByUser lists devices registered for a user
func (r *deviceRepository) ListByUser(ctx context.Context, userID uint64) ([]model.Device, error) {
	var devices []model.Device
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&devices).Error
	return devices, err
}

// Upsert inserts or updates a device, matched by (user, name)
func (r *deviceRepository) Upsert(ctx context.Context, device *model.Device) error {
	var existing model.Device
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND name = ?", device.UserID, device.Name).
		First(&existing).Error
	if err == nil {
		existing.Token = device.Token
		*device = existing
		return r.db.WithContext(ctx).Save(&existing).Error
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	return r.db.WithContext(ctx).Create(device).Error
}

// Delete deletes a device
func (r *deviceRepository) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Delete(&model.Device{}, id).Error
}
