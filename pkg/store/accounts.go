package store

import (
	"context"
	"strings"

	"gorm.io/gorm"
)

// GetAccount looks up an account by its account code.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var acct Account
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&acct).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrAccountNotFound)
	}
	return &acct, nil
}

// ListAccounts returns every account, ordered by account code.
func (s *Store) ListAccounts(ctx context.Context) ([]*Account, error) {
	var accts []*Account
	err := s.db.WithContext(ctx).Order("account_id").Find(&accts).Error
	return accts, err
}

// ManagedAccountCodes returns the comma-joined account list for
// MANAGED_ACCTS frames.
func (s *Store) ManagedAccountCodes(ctx context.Context) (string, error) {
	accts, err := s.ListAccounts(ctx)
	if err != nil {
		return "", err
	}
	codes := make([]string, len(accts))
	for i, a := range accts {
		codes[i] = a.AccountID
	}
	return strings.Join(codes, ","), nil
}

// CreateAccount inserts a new account with the given plaintext password.
func (s *Store) CreateAccount(ctx context.Context, accountID, password string) (*Account, error) {
	acct := &Account{AccountID: accountID}
	if err := acct.SetPassword(password); err != nil {
		return nil, err
	}
	acct.NetLiquidation = 1_000_000
	acct.TotalCash = 1_000_000
	acct.BuyingPower = 4_000_000
	acct.Currency = "USD"

	err := s.db.WithContext(ctx).Create(acct).Error
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
			strings.Contains(err.Error(), "duplicate key value") {
			return nil, ErrDuplicateAccount
		}
		return nil, err
	}
	return acct, nil
}

// Authenticate verifies an account's password.
func (s *Store) Authenticate(ctx context.Context, accountID, password string) (*Account, error) {
	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acct.CheckPassword(password) {
		return nil, ErrInvalidPassword
	}
	return acct, nil
}

// UpdateAccountBalances applies the cash and P&L deltas produced by a fill.
func (s *Store) UpdateAccountBalances(ctx context.Context, accountID string, cashDelta, realizedDelta float64) error {
	res := s.db.WithContext(ctx).Model(&Account{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{
			"total_cash":      gorm.Expr("total_cash + ?", cashDelta),
			"net_liquidation": gorm.Expr("net_liquidation + ?", realizedDelta),
			"realized_pnl":    gorm.Expr("realized_pnl + ?", realizedDelta),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
