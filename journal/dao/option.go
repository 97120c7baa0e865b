package dao

import (
	"time"

	"gorm.io/gorm"
)

type QueryOption func(db *gorm.DB) *gorm.DB

func WithID(id uint) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	}
}

func WithStatus(status string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ?", status)
	}
}

func WithCreatedBefore(before time.Time) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("created_at < ?", before)
	}
}

func WithOrderByID() QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	}
}
