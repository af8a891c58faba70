package store

import (
	"context"

	"gorm.io/gorm/clause"
)

// GetMarketData returns the latest quote snapshot for a contract, or nil
// when no quote has been recorded yet.
func (s *Store) GetMarketData(ctx context.Context, conID int64) (*MarketData, error) {
	var md MarketData
	err := s.db.WithContext(ctx).Where("con_id = ?", conID).First(&md).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrContractNotFound)
	}
	return &md, nil
}

// UpdateMarketData replaces the quote snapshot for a contract.
func (s *Store) UpdateMarketData(ctx context.Context, md *MarketData) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "con_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"symbol", "bid", "ask", "last", "bid_size", "ask_size", "volume",
		}),
	}).Create(md).Error
}

// GetHistoricalBars returns stored bars for a contract, oldest first,
// capped at limit rows (0 means no cap).
func (s *Store) GetHistoricalBars(ctx context.Context, conID int64, limit int) ([]*HistoricalBar, error) {
	q := s.db.WithContext(ctx).Where("con_id = ?", conID).Order("date")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*HistoricalBar
	err := q.Find(&out).Error
	return out, err
}

// SaveHistoricalBars inserts or replaces bars for a contract.
func (s *Store) SaveHistoricalBars(ctx context.Context, bars []*HistoricalBar) error {
	if len(bars) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "con_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"open", "high", "low", "close", "volume", "wap", "bar_count",
		}),
	}).Create(bars).Error
}
