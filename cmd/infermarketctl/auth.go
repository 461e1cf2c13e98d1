package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

var registerCmd = &cobra.Command{
	Use:   "register <email> <password>",
	Short: "Create an account and save its token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient(coordinatorURL)
		var resp authResponse
		if err := c.do("POST", "/api/register", registerRequest{Email: args[0], Password: args[1]}, &resp); err != nil {
			return err
		}
		if err := saveToken(resp.Token); err != nil {
			return fmt.Errorf("registered but failed to save token: %w", err)
		}
		fmt.Printf("registered user %s, token saved\n", resp.UserID)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <email> <password>",
	Short: "Authenticate and save the issued token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient(coordinatorURL)
		var resp authResponse
		if err := c.do("POST", "/api/login", registerRequest{Email: args[0], Password: args[1]}, &resp); err != nil {
			return err
		}
		if err := saveToken(resp.Token); err != nil {
			return fmt.Errorf("logged in but failed to save token: %w", err)
		}
		fmt.Println("login succeeded, token saved")
		return nil
	},
}

type meResponse struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	BalanceSats int64  `json:"balance_sats"`
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the authenticated user's profile and wallet balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient(coordinatorURL)
		var resp meResponse
		if err := c.do("GET", "/api/me", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("user_id:  %s\nemail:    %s\nbalance:  %d sats\n", resp.UserID, resp.Email, resp.BalanceSats)
		return nil
	},
}
