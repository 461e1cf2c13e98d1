package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage the authenticated user's custodial wallet",
}

type walletDepositRequest struct {
	Amount int64 `json:"amount"`
}

type walletDepositResponse struct {
	Invoice     *invoiceResult `json:"invoice"`
	PaymentHash string         `json:"payment_hash"`
}

var walletDepositAmount int64

var walletDepositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "Request a Lightning invoice to top up the wallet",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient(coordinatorURL)
		var resp walletDepositResponse
		if err := c.do("POST", "/api/wallet/deposit", walletDepositRequest{Amount: walletDepositAmount}, &resp); err != nil {
			return err
		}
		fmt.Printf("payment_hash: %s\n%s\n", resp.PaymentHash, resp.Invoice.Bolt11)
		return nil
	},
}

type walletDepositCheckResponse struct {
	Status string `json:"status"`
}

var walletDepositCheckCmd = &cobra.Command{
	Use:   "deposit-check <payment-hash>",
	Short: "Check the status of a deposit invoice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient(coordinatorURL)
		var resp walletDepositCheckResponse
		if err := c.do("GET", "/api/wallet/deposit/check/"+args[0], nil, &resp); err != nil {
			return err
		}
		fmt.Printf("status: %s\n", resp.Status)
		return nil
	},
}

type ledgerTransaction struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	AmountSats int64 `json:"amount_sats"`
	CreatedAt string `json:"created_at"`
}

type walletTransactionsResponse struct {
	Transactions []ledgerTransaction `json:"transactions"`
}

var walletTransactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List the authenticated user's ledger transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient(coordinatorURL)
		var resp walletTransactionsResponse
		if err := c.do("GET", "/api/wallet/transactions", nil, &resp); err != nil {
			return err
		}
		if len(resp.Transactions) == 0 {
			fmt.Println("no transactions")
			return nil
		}
		for _, tx := range resp.Transactions {
			fmt.Printf("%-36s %-12s %8d sats  %s\n", tx.ID, tx.Type, tx.AmountSats, tx.CreatedAt)
		}
		return nil
	},
}

func init() {
	walletDepositCmd.Flags().Int64Var(&walletDepositAmount, "amount", 0, "amount in sats")
	walletDepositCmd.MarkFlagRequired("amount")

	walletCmd.AddCommand(walletDepositCmd)
	walletCmd.AddCommand(walletDepositCheckCmd)
	walletCmd.AddCommand(walletTransactionsCmd)
}
