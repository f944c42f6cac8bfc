package cli

import (
	"fmt"
	"time"

	"printshop/config"
	"printshop/internal/auth"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		role   string
		userID string
		phone  string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with JWT_SECRET",
		Long: `Issues a token for local testing. Production tokens come from the
authentication service; this command only uses the shared secret.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := uuid.New()
			if userID != "" {
				parsed, err := uuid.Parse(userID)
				if err != nil {
					return fmt.Errorf("invalid --user-id: %w", err)
				}
				id = parsed
			}
			switch role {
			case auth.RoleCustomer, auth.RoleStaff, auth.RoleCashier, auth.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			verifier, err := auth.NewVerifier(config.Load().Auth.JWTSecret)
			if err != nil {
				return err
			}
			token, err := verifier.Issue(auth.Principal{UserID: id, Role: role, Phone: phone}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", auth.RoleStaff, "customer, staff, cashier or admin")
	cmd.Flags().StringVar(&userID, "user-id", "", "Subject user ID (random when empty)")
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}
