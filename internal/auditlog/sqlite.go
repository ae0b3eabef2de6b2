package auditlog

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteBackend stores records in a SQLite database and serves the
// read-only dashboard queries.
type SQLiteBackend struct {
	db *gorm.DB
}

// NewSQLiteBackend opens (or creates) the database at path and migrates
// the record schema.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit database: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Append implements Backend.
func (b *SQLiteBackend) Append(record Record) error {
	return b.db.Create(&record).Error
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Recent returns the most recent records, newest first, optionally
// filtered by risk level.
func (b *SQLiteBackend) Recent(limit int, riskLevel string) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := b.db.Order("id DESC").Limit(limit)
	if riskLevel != "" {
		query = query.Where("risk_level = ?", riskLevel)
	}
	var records []Record
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Stats returns assessment counts per risk level.
func (b *SQLiteBackend) Stats() (map[string]int64, error) {
	type row struct {
		RiskLevel string
		Count     int64
	}
	var rows []row
	err := b.db.Model(&Record{}).
		Select("risk_level, count(*) as count").
		Group("risk_level").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := make(map[string]int64, len(rows))
	for _, r := range rows {
		stats[r.RiskLevel] = r.Count
	}
	return stats, nil
}
