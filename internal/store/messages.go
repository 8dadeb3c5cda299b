package store

import (
	"context"
	"errors"
	"time"

	"whatsapp-automation/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repo) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	var m models.Message
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *Repo) CountInboundMessages(ctx context.Context, contactID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("contact_id = ? AND direction = ?", contactID, models.DirectionInbound).
		Count(&n).Error
	return n, err
}

// SaveMessage inserts m. A message whose provider id is already stored is
// left alone and reported with stored=false, so webhook retries are no-ops.
func (r *Repo) SaveMessage(ctx context.Context, m *models.Message) (stored bool, err error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RecordOutbound stores a delivered message and stamps the contact as contacted
func (r *Repo) RecordOutbound(ctx context.Context, m *models.Message, at time.Time) error {
	m.Direction = models.DirectionOutbound
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Model(&models.Contact{}).Where("id = ?", m.ContactID).Update("last_contacted_at", at.UTC()).Error
	})
}

// UpdateMessageStatus applies a provider status callback. Unknown ids are not an error.
func (r *Repo) UpdateMessageStatus(ctx context.Context, providerMessageID, status string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("provider_message_id = ?", providerMessageID).
		Update("status", status)
	return res.RowsAffected > 0, res.Error
}

func (r *Repo) ListContactMessages(ctx context.Context, contactID uint, limit int) ([]models.Message, error) {
	rows := []models.Message{}
	err := r.db.WithContext(ctx).Where("contact_id = ?", contactID).
		Order("created_at desc, id desc").Limit(limit).Find(&rows).Error
	return rows, err
}
