package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrVersionConflict 乐观锁冲突，调用方应重新加载后重试
var ErrVersionConflict = errors.New("models: version conflict")

// Base 所有聚合共有的字段
type Base struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version" gorm:"not null"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

func (b *Base) GetVersion() int64 { return b.Version }

func (b *Base) setVersion(v int64) { b.Version = v }

func (b *Base) touch(now time.Time) { b.UpdatedAt = now }

// Versioned 支持乐观锁写入的聚合
type Versioned interface {
	GetVersion() int64
	setVersion(v int64)
	touch(now time.Time)
}

// UpdateVersioned 整行写回，仅当库中版本未变时生效
func UpdateVersioned(db *gorm.DB, m Versioned, now time.Time) error {
	prev := m.GetVersion()
	m.setVersion(prev + 1)
	m.touch(now)

	res := db.Model(m).Where("version = ?", prev).Select("*").Updates(m)
	if res.Error != nil {
		m.setVersion(prev)
		return res.Error
	}
	if res.RowsAffected == 0 {
		m.setVersion(prev)
		return ErrVersionConflict
	}
	return nil
}
