package system

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	pasetotoken "github.com/Alijeyrad/simorq_calendar/pkg/paseto"
)

// NewTokenCommand mints a practitioner access token for local testing.
// Production tokens come from the identity service.
func NewTokenCommand() *cobra.Command {
	var practitioner string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a practitioner access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}

			id := uuid.New()
			if practitioner != "" {
				if id, err = uuid.Parse(practitioner); err != nil {
					return fmt.Errorf("invalid practitioner id: %w", err)
				}
			}

			mgr, err := pasetotoken.NewPasetoManager(cfg)
			if err != nil {
				return fmt.Errorf("failed to load paseto keys: %w", err)
			}
			tok, err := mgr.IssueAccess(id, nil, pasetotoken.RolePractitioner)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}

			fmt.Printf("practitioner: %s\n%s\n", id, tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&practitioner, "practitioner", "", "Practitioner id (random when empty)")

	return cmd
}
