package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// CreateOrder inserts a new order in PendingSubmit state.
func (s *Store) CreateOrder(ctx context.Context, o *Order) error {
	if o.Status == "" {
		o.Status = OrderStatusPendingSubmit
	}
	if o.Remaining == 0 && o.Filled == 0 {
		o.Remaining = o.Quantity
	}
	return s.db.WithContext(ctx).Create(o).Error
}

// GetOrder looks up an order by its wire order id.
func (s *Store) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	var o Order
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&o).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrOrderNotFound)
	}
	return &o, nil
}

// GetOpenOrders returns the working orders for one client, oldest first.
// clientID < 0 returns open orders across all clients.
func (s *Store) GetOpenOrders(ctx context.Context, clientID int64) ([]*Order, error) {
	q := s.db.WithContext(ctx).
		Where("status IN ?", []string{OrderStatusPendingSubmit, OrderStatusSubmitted, OrderStatusPendingCancel})
	if clientID >= 0 {
		q = q.Where("client_id = ?", clientID)
	}
	var out []*Order
	err := q.Order("order_id").Find(&out).Error
	return out, err
}

// UpdateOrderStatus moves an order to a new lifecycle state.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	res := s.db.WithContext(ctx).Model(&Order{}).
		Where("order_id = ?", orderID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// FillOrder marks an order filled and records the execution in one
// transaction.
func (s *Store) FillOrder(ctx context.Context, orderID int64, price float64, exec *Execution) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o Order
		if err := tx.Where("order_id = ?", orderID).First(&o).Error; err != nil {
			return convertNotFoundError(err, ErrOrderNotFound)
		}
		updates := map[string]any{
			"status":         OrderStatusFilled,
			"filled":         o.Quantity,
			"remaining":      0,
			"avg_fill_price": price,
		}
		if err := tx.Model(&o).Updates(updates).Error; err != nil {
			return err
		}
		if exec.Time.IsZero() {
			exec.Time = time.Now()
		}
		return tx.Create(exec).Error
	})
}

// RecordExecution stores a standalone fill.
func (s *Store) RecordExecution(ctx context.Context, exec *Execution) error {
	if exec.Time.IsZero() {
		exec.Time = time.Now()
	}
	return s.db.WithContext(ctx).Create(exec).Error
}

// ExecutionQuery narrows GetExecutions. Zero fields match everything.
type ExecutionQuery struct {
	ClientID  int64
	AccountID string
	Symbol    string
	SecType   string
	Exchange  string
	Side      string
	Since     time.Time
}

// GetExecutions returns executions matching the query, oldest first.
func (s *Store) GetExecutions(ctx context.Context, q ExecutionQuery) ([]*Execution, error) {
	db := s.db.WithContext(ctx)
	if q.ClientID > 0 {
		db = db.Where("client_id = ?", q.ClientID)
	}
	if q.AccountID != "" {
		db = db.Where("account_id = ?", q.AccountID)
	}
	if q.Symbol != "" {
		db = db.Where("symbol = ?", q.Symbol)
	}
	if q.SecType != "" {
		db = db.Where("sec_type = ?", q.SecType)
	}
	if q.Exchange != "" {
		db = db.Where("exchange = ?", q.Exchange)
	}
	if q.Side != "" {
		db = db.Where("side = ?", q.Side)
	}
	if !q.Since.IsZero() {
		db = db.Where("time >= ?", q.Since)
	}
	var out []*Execution
	err := db.Order("time, id").Find(&out).Error
	return out, err
}
