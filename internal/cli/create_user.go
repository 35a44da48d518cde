package cli

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"horizon-portal/internal/app"
	"horizon-portal/internal/config"
	"horizon-portal/internal/domain"
	"horizon-portal/internal/infra/postgres"
)

// NewCreateUserCmd registers an account directly in Postgres, typically the first admin.
func NewCreateUserCmd(configPath *string) *cobra.Command {
	var in app.UserInput
	var role string
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user account in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			db := postgres.Open(cfg.Postgres.URL)
			defer db.Close()

			in.Role = domain.Role(strings.ToUpper(role))
			// tokens are never issued here, so no session store or signer is needed
			clients := app.NewClientService(postgres.NewStore(db), nil, nil, 0)
			u, err := clients.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			log.Printf("created %s user %s (%s)", u.Role, u.Email, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Email, "email", "", "login email")
	cmd.Flags().StringVar(&in.Password, "password", "", "login password")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleAdmin), "ADMIN or USER")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
