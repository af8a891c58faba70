package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantfold/ibsim/internal/cli/output"
	"github.com/quantfold/ibsim/internal/cli/prompt"
	"github.com/quantfold/ibsim/pkg/config"
	"github.com/quantfold/ibsim/pkg/store"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage simulated accounts (add, list)",
}

var accountAddCmd = &cobra.Command{
	Use:   "add <account-id>",
	Short: "Add an account (prompts for password)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountAdd,
}

var accountListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List accounts",
	RunE:    runAccountList,
}

func init() {
	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountListCmd)
}

// openStore loads the configuration and opens the brokerage database the
// gateway uses.
func openStore() (*store.Store, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, err
	}
	return store.New(&cfg.Database)
}

func runAccountAdd(cmd *cobra.Command, args []string) error {
	accountID := args[0]

	password, err := prompt.NewPassword(4)
	if err != nil {
		if prompt.IsAborted(err) {
			return nil
		}
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	acct, err := st.CreateAccount(cmd.Context(), accountID, password)
	if err != nil {
		if err == store.ErrDuplicateAccount {
			return fmt.Errorf("account %q already exists", accountID)
		}
		return err
	}

	fmt.Printf("Account %s created (net liquidation %.2f %s)\n",
		acct.AccountID, acct.NetLiquidation, acct.Currency)
	return nil
}

func runAccountList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	accts, err := st.ListAccounts(cmd.Context())
	if err != nil {
		return err
	}
	if len(accts) == 0 {
		fmt.Println("No accounts found. Create one with: ibsim account add <account-id>")
		return nil
	}

	rows := make([][]string, len(accts))
	for i, a := range accts {
		rows[i] = []string{
			a.AccountID,
			a.Currency,
			fmt.Sprintf("%.2f", a.NetLiquidation),
			fmt.Sprintf("%.2f", a.TotalCash),
			fmt.Sprintf("%.2f", a.BuyingPower),
			fmt.Sprintf("%.2f", a.RealizedPNL),
		}
	}
	output.PrintTable(os.Stdout,
		[]string{"Account", "Currency", "Net Liq", "Cash", "Buying Power", "Realized P&L"},
		rows)
	return nil
}
