package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// invoiceResult mirrors internal/lightning.InvoiceResult, which carries no
// json tags of its own, so the wire field names are its Go field names.
type invoiceResult struct {
	Bolt11      string
	PaymentHash string
	ExpiresAt   time.Time
}

type newSessionRequest struct {
	Model         string `json:"model"`
	HFRepo        string `json:"hf_repo"`
	NodeID        string `json:"node_id"`
	Minutes       int64  `json:"minutes"`
	ContextLength int64  `json:"context_length"`
	PaymentMethod string `json:"payment_method"`
}

type newSessionResponse struct {
	SessionID string         `json:"session_id"`
	Invoice   *invoiceResult `json:"invoice,omitempty"`
	Amount    int64          `json:"amount"`
}

var (
	sessModel         string
	sessHFRepo        string
	sessNodeID        string
	sessMinutes       int64
	sessContextLength int64
	sessPaymentMethod string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage inference sessions",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Open a new inference session on a node",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient(coordinatorURL)
		req := newSessionRequest{
			Model:         sessModel,
			HFRepo:        sessHFRepo,
			NodeID:        sessNodeID,
			Minutes:       sessMinutes,
			ContextLength: sessContextLength,
			PaymentMethod: sessPaymentMethod,
		}
		var resp newSessionResponse
		if err := c.do("POST", "/api/new_session", req, &resp); err != nil {
			return err
		}
		fmt.Printf("session_id: %s  amount: %d sats\n", resp.SessionID, resp.Amount)
		if resp.Invoice != nil {
			fmt.Printf("pay this invoice to start the session:\n%s\n", resp.Invoice.Bolt11)
		}
		return nil
	},
}

type checkPaymentResponse struct {
	Paid bool `json:"paid"`
}

var sessionCheckPaymentCmd = &cobra.Command{
	Use:   "check-payment <session-id>",
	Short: "Check whether a session's invoice has been paid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient(coordinatorURL)
		var resp checkPaymentResponse
		if err := c.do("GET", "/api/session/"+args[0]+"/check_payment", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("paid: %v\n", resp.Paid)
		return nil
	},
}

func init() {
	sessionNewCmd.Flags().StringVar(&sessModel, "model", "", "model identifier, for nodes serving a fixed catalog")
	sessionNewCmd.Flags().StringVar(&sessHFRepo, "hf-repo", "", "Hugging Face repo id, for nodes that load on demand")
	sessionNewCmd.Flags().StringVar(&sessNodeID, "node", "", "node id to run the session on")
	sessionNewCmd.Flags().Int64Var(&sessMinutes, "minutes", 0, "session duration in minutes")
	sessionNewCmd.Flags().Int64Var(&sessContextLength, "context-length", 0, "requested context length in tokens")
	sessionNewCmd.Flags().StringVar(&sessPaymentMethod, "payment-method", "lightning", "lightning or wallet")
	sessionNewCmd.MarkFlagRequired("node")
	sessionNewCmd.MarkFlagRequired("minutes")
	sessionNewCmd.MarkFlagRequired("context-length")

	sessionCmd.AddCommand(sessionNewCmd)
	sessionCmd.AddCommand(sessionCheckPaymentCmd)
}
