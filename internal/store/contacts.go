package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"whatsapp-automation/internal/automation"
	"whatsapp-automation/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repo) GetContact(ctx context.Context, id uint) (*models.Contact, error) {
	var c models.Contact
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// likeEscaper makes keywords match literally inside a LIKE pattern
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// ListActiveContacts returns active contacts matching every set field of f,
// in creation order.
func (r *Repo) ListActiveContacts(ctx context.Context, f automation.ContactFilter) ([]models.Contact, error) {
	q := r.db.WithContext(ctx).Model(&models.Contact{}).Where("is_active = ?", true)
	if f.CreatedSince != nil {
		q = q.Where("created_at >= ?", f.CreatedSince.UTC())
	}
	if f.Birthday != nil {
		q = q.Where("birthday IS NOT NULL")
	}
	if f.InboundSince != nil || len(f.InboundKeywords) > 0 {
		sub := r.db.Model(&models.Message{}).Select("contact_id").Where("direction = ?", models.DirectionInbound)
		if f.InboundSince != nil {
			sub = sub.Where("created_at >= ?", f.InboundSince.UTC())
		}
		if len(f.InboundKeywords) > 0 {
			var match *gorm.DB
			for _, k := range f.InboundKeywords {
				pattern := "%" + likeEscaper.Replace(strings.ToLower(k)) + "%"
				if match == nil {
					match = r.db.Where(`LOWER(content) LIKE ? ESCAPE '\'`, pattern)
				} else {
					match = match.Or(`LOWER(content) LIKE ? ESCAPE '\'`, pattern)
				}
			}
			sub = sub.Where(match)
		}
		q = q.Where("id IN (?)", sub)
	}

	var rows []models.Contact
	if err := q.Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	// month/day matching differs between SQLite and PostgreSQL, so it runs here
	if f.Birthday != nil {
		matched := rows[:0]
		for _, c := range rows {
			if c.Birthday != nil && c.Birthday.Month() == f.Birthday.Month && c.Birthday.Day() == f.Birthday.Day {
				matched = append(matched, c)
			}
		}
		rows = matched
	}
	return rows, nil
}

func (r *Repo) UpdateContactFields(ctx context.Context, id uint, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.Contact{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) ListContacts(ctx context.Context, limit int) ([]models.Contact, error) {
	rows := []models.Contact{}
	if err := r.db.WithContext(ctx).Order("created_at desc, id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repo) CreateContact(ctx context.Context, c *models.Contact) error {
	if c.Tags == nil {
		c.Tags = []string{}
	}
	c.IsActive = true
	return r.db.WithContext(ctx).Create(c).Error
}

// FindOrCreateContactByPhone returns the contact for phone, creating it when
// missing. created reports whether a new row was inserted.
func (r *Repo) FindOrCreateContactByPhone(ctx context.Context, phone, name string) (*models.Contact, bool, error) {
	c := models.Contact{Phone: phone, Name: name, IsActive: true, Tags: []string{}}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "phone"}}, DoNothing: true}).
		Create(&c)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return &c, true, nil
	}

	var existing models.Contact
	if err := r.db.WithContext(ctx).Where("phone = ?", phone).First(&existing).Error; err != nil {
		return nil, false, err
	}
	if existing.Name == "" && name != "" {
		existing.Name = name
		if err := r.db.WithContext(ctx).Model(&existing).Update("name", name).Error; err != nil {
			return nil, false, err
		}
	}
	return &existing, false, nil
}

func (r *Repo) TouchContact(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Contact{}).Where("id = ?", id).Update("last_contacted_at", at.UTC()).Error
}

func (r *Repo) GetContactByPhone(ctx context.Context, phone string) (*models.Contact, error) {
	var c models.Contact
	if err := r.db.WithContext(ctx).Where("phone = ?", phone).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}
