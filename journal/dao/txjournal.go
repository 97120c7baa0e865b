package dao

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TXJournalPO struct {
	gorm.Model
	Tree     string `gorm:"tree"`
	Attempts int    `gorm:"attempts"`
	Status   string `gorm:"status"`
	Reason   string `gorm:"reason"`
	Detail   string `gorm:"detail"`
}

func (t TXJournalPO) TableName() string {
	return "tx_journal"
}

// Repository 事务日志表的读写接口，LockAndDo 的回调在同一个数据库事务内拿到它
type Repository interface {
	GetTXRecords(ctx context.Context, opts ...QueryOption) ([]*TXJournalPO, error)
	CreateTXRecord(ctx context.Context, record *TXJournalPO) (uint, error)
	UpdateTXRecord(ctx context.Context, record *TXJournalPO) error
	LockAndDo(ctx context.Context, id uint, do func(ctx context.Context, repo Repository, record *TXJournalPO) error) error
}

type TXJournalDAO struct {
	db *gorm.DB
}

func NewTXJournalDAO(db *gorm.DB) *TXJournalDAO {
	return &TXJournalDAO{
		db: db,
	}
}

// Migrate 建表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&TXJournalPO{})
}

func (t *TXJournalDAO) GetTXRecords(ctx context.Context, opts ...QueryOption) ([]*TXJournalPO, error) {
	db := t.db.WithContext(ctx).Model(&TXJournalPO{})
	for _, opt := range opts {
		db = opt(db)
	}

	var records []*TXJournalPO
	return records, db.Scan(&records).Error
}

func (t *TXJournalDAO) CreateTXRecord(ctx context.Context, record *TXJournalPO) (uint, error) {
	if err := t.db.WithContext(ctx).Model(&TXJournalPO{}).Create(record).Error; err != nil {
		return 0, err
	}
	return record.ID, nil
}

func (t *TXJournalDAO) UpdateTXRecord(ctx context.Context, record *TXJournalPO) error {
	return t.db.WithContext(ctx).Updates(record).Error
}

func (t *TXJournalDAO) LockAndDo(ctx context.Context, id uint, do func(ctx context.Context, repo Repository, record *TXJournalPO) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 加写锁
		var record TXJournalPO
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&record, id).Error; err != nil {
			return err
		}

		return do(ctx, NewTXJournalDAO(tx), &record)
	})
}
