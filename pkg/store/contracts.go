package store

import "context"

// GetContractByConID looks up a contract by its wire identifier.
func (s *Store) GetContractByConID(ctx context.Context, conID int64) (*Contract, error) {
	var c Contract
	err := s.db.WithContext(ctx).Where("con_id = ?", conID).First(&c).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrContractNotFound)
	}
	return &c, nil
}

// GetContractBySymbol looks up a contract by symbol and security type. An
// empty secType matches any type.
func (s *Store) GetContractBySymbol(ctx context.Context, symbol, secType string) (*Contract, error) {
	q := s.db.WithContext(ctx).Where("symbol = ?", symbol)
	if secType != "" {
		q = q.Where("sec_type = ?", secType)
	}
	var c Contract
	if err := q.First(&c).Error; err != nil {
		return nil, convertNotFoundError(err, ErrContractNotFound)
	}
	return &c, nil
}

// FindContracts returns every contract matching the given search terms.
// Empty terms are ignored, so a symbol-only search returns all types.
func (s *Store) FindContracts(ctx context.Context, symbol, secType, currency string) ([]*Contract, error) {
	q := s.db.WithContext(ctx)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if secType != "" {
		q = q.Where("sec_type = ?", secType)
	}
	if currency != "" {
		q = q.Where("currency = ?", currency)
	}
	var out []*Contract
	err := q.Order("con_id").Find(&out).Error
	return out, err
}

// ListContracts returns all contracts ordered by con id.
func (s *Store) ListContracts(ctx context.Context) ([]*Contract, error) {
	var out []*Contract
	err := s.db.WithContext(ctx).Order("con_id").Find(&out).Error
	return out, err
}

// GetOptionChain returns the option contracts written against an underlying.
func (s *Store) GetOptionChain(ctx context.Context, underConID int64) ([]*OptionContract, error) {
	var out []*OptionContract
	err := s.db.WithContext(ctx).
		Where("under_con_id = ?", underConID).
		Order("expiry, strike").
		Find(&out).Error
	return out, err
}
