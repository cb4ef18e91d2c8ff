package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/garyjia/opsflow/pkg/utils"
)

func newGrantCommand(app *App) *cobra.Command {
	var (
		companyID   string
		storeID     string
		userID      string
		roleName    string
		displayName string
		chatID      string
	)

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Assign a role to a user in the directory",
		Long: `Assign a role to a user. STAFF and STORE_MANAGER assignments need --store;
COMPANY_ADMIN and OWNER are company-wide.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := entity.ParseRole(roleName)
			if err != nil {
				return err
			}
			if err := utils.ValidateIdentifier("company", companyID); err != nil {
				return err
			}
			if err := utils.ValidateIdentifier("user", userID); err != nil {
				return err
			}

			a := port.RoleAssignment{
				CompanyID:   companyID,
				UserID:      userID,
				Role:        role,
				DisplayName: displayName,
				ChatID:      chatID,
			}
			if role.IsStoreScoped() {
				if err := utils.ValidateIdentifier("store", storeID); err != nil {
					return fmt.Errorf("%s is store-scoped: %w", role, err)
				}
				a.StoreID = &storeID
			} else if storeID != "" {
				return fmt.Errorf("%s is company-wide and takes no --store", role)
			}

			c, err := app.startContainer(cmd.Context(), false)
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer closeContainer(c, app.Logger)

			if err := c.Repositories().Directory.Assign(cmd.Context(), a); err != nil {
				return err
			}

			app.Logger.Info("Role granted",
				zap.String("company_id", companyID),
				zap.String("user_id", userID),
				zap.String("role", string(role)))
			printf(cmd.OutOrStdout(), "granted %s to %s in %s\n", role, userID, companyID)
			return nil
		},
	}

	cmd.Flags().StringVar(&companyID, "company", "", "company id (required)")
	cmd.Flags().StringVar(&storeID, "store", "", "store id for store-scoped roles")
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&roleName, "role", "", "STAFF, STORE_MANAGER, COMPANY_ADMIN or OWNER (required)")
	cmd.Flags().StringVar(&displayName, "name", "", "display name used in notifications")
	cmd.Flags().StringVar(&chatID, "chat-id", "", "chat id for direct messages")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
