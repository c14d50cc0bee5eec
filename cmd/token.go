package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/markb/filepulse/internal/auth"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a viewer credential",
	Long: `Mints a signed credential for a viewer identity, for development and testing.

Examples:
  # Mint a token with the secret from the environment
  FILEPULSE_JWT_SECRET=... filepulse token --user user-123 --name "Ada" --email ada@example.com

  # Prompt for the secret interactively
  filepulse token --user user-123`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		expiry, _ := cmd.Flags().GetDuration("expiry")

		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		secret := os.Getenv("FILEPULSE_JWT_SECRET")
		if secret == "" {
			fmt.Fprint(os.Stderr, "JWT secret: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to read secret: %w", err)
			}
			secret = string(raw)
		}
		if secret == "" {
			return fmt.Errorf("jwt secret required (set FILEPULSE_JWT_SECRET or enter it at the prompt)")
		}

		token, err := auth.GenerateToken(secret, &auth.Identity{
			UserID: userID,
			Name:   name,
			Email:  email,
		}, expiry)
		if err != nil {
			return fmt.Errorf("failed to mint token: %w", err)
		}

		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("user", "", "Stable user id (sub claim)")
	tokenCmd.Flags().String("name", "", "Display name")
	tokenCmd.Flags().String("email", "", "Email address")
	tokenCmd.Flags().Duration("expiry", time.Hour, "Token lifetime")
}
