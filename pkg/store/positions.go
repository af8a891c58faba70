package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetPositions returns the holdings of one account. An empty accountID
// returns positions across all accounts.
func (s *Store) GetPositions(ctx context.Context, accountID string) ([]*Position, error) {
	q := s.db.WithContext(ctx)
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	var out []*Position
	err := q.Order("account_id, con_id").Find(&out).Error
	return out, err
}

// UpsertPosition creates or replaces the holding of one contract in one
// account. A zero position deletes the row.
func (s *Store) UpsertPosition(ctx context.Context, p *Position) error {
	if p.Position == 0 {
		return s.db.WithContext(ctx).
			Where("account_id = ? AND con_id = ?", p.AccountID, p.ConID).
			Delete(&Position{}).Error
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "con_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"position", "avg_cost", "symbol", "sec_type", "currency"}),
	}).Create(p).Error
}

// ApplyFill folds one execution into the account's position, recomputing
// the average cost on adds and leaving it untouched on reductions.
func (s *Store) ApplyFill(ctx context.Context, accountID string, c *Contract, signedQty, price float64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Position
		err := tx.Where("account_id = ? AND con_id = ?", accountID, c.ConID).First(&p).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			p = Position{
				AccountID: accountID,
				ConID:     c.ConID,
				Symbol:    c.Symbol,
				SecType:   c.SecType,
				Currency:  c.Currency,
				Position:  signedQty,
				AvgCost:   price,
			}
			return tx.Create(&p).Error
		case err != nil:
			return err
		}

		newQty := p.Position + signedQty
		if newQty == 0 {
			return tx.Delete(&p).Error
		}
		sameSide := (p.Position > 0) == (signedQty > 0)
		if sameSide {
			p.AvgCost = (p.AvgCost*p.Position + price*signedQty) / newQty
		} else if (newQty > 0) != (p.Position > 0) {
			// Crossed through flat: the residual opens at the fill price.
			p.AvgCost = price
		}
		p.Position = newQty
		return tx.Model(&Position{}).
			Where("account_id = ? AND con_id = ?", accountID, c.ConID).
			Updates(map[string]any{"position": p.Position, "avg_cost": p.AvgCost}).Error
	})
}
