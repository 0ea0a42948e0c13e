package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLSlots adapts Repo to the mailbox slot backend.
type SQLSlots struct {
	Repo *Repo
}

func (s SQLSlots) Put(ctx context.Context, cmd *Command) (bool, error) {
	return s.Repo.PutCommand(ctx, cmd)
}

func (s SQLSlots) Take(ctx context.Context, deviceID string) (*Command, error) {
	return s.Repo.TakeCommand(ctx, deviceID)
}

// PutCommand stores cmd in its device slot, replacing whatever was there.
// It reports whether a pending command was replaced.
func (r *Repo) PutCommand(ctx context.Context, cmd *Command) (bool, error) {
	replaced := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Command{}).Where("device_id = ?", cmd.DeviceID).Count(&n).Error; err != nil {
			return err
		}
		replaced = n > 0
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}},
			UpdateAll: true,
		}).Create(cmd).Error
	})
	if err != nil {
		return false, err
	}
	return replaced, nil
}

// TakeCommand reads and deletes the slot of deviceID. The delete is
// conditioned on the command id that was read, so of two concurrent takers
// only the one whose delete hits a row gets the command. Returns nil, nil
// when the slot is empty.
func (r *Repo) TakeCommand(ctx context.Context, deviceID string) (*Command, error) {
	var out *Command
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Command
		if err := tx.Where("device_id = ?", deviceID).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		res := tx.Where("device_id = ? AND command_id = ?", row.DeviceID, row.ID).Delete(&Command{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			out = &row
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
