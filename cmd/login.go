package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/resydrop/internal/config"
	"github.com/example/resydrop/internal/resy"
)

func newLoginCmd() *cobra.Command {
	var (
		account  string
		email    string
		password string
	)

	c := &cobra.Command{
		Use:   "login",
		Short: "Exchange the account email/password for a fresh Resy auth token",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			if account != "" {
				a.cfg.ResyUserConfig = account
			}
			acct, err := a.cfg.Account()
			if err != nil {
				return err
			}
			if email != "" {
				acct.Email = email
			}
			if password != "" {
				acct.Password = password
			}
			if acct.Email == "" || acct.Password == "" {
				return fmt.Errorf("email and password required (account file or --email/--password)")
			}

			client := resy.New(resy.Credentials{APIKey: acct.APIKey}, resy.WithLocation(a.cfg.Location))
			res, err := client.Auth(cmd.Context(), acct.Email, acct.Password)
			if err != nil {
				return err
			}
			acct.Token = res.Token
			if acct.PaymentMethodID == 0 && len(res.PaymentMethods) > 0 {
				acct.PaymentMethodID = res.PaymentMethods[0]
			}

			if a.cfg.ResyUserConfig == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "export RESY_AUTH_TOKEN=%s\n", acct.Token)
				return nil
			}
			if err := config.SaveAccount(a.cfg.ResyUserConfig, acct); err != nil {
				return err
			}
			a.log.Info().Str("account", a.cfg.ResyUserConfig).Int64("payment_method_id", acct.PaymentMethodID).Msg("auth token refreshed")
			return nil
		},
	}

	c.Flags().StringVar(&account, "account", "", "resy account json to refresh (overrides RESY_USER_CONFIG)")
	c.Flags().StringVar(&email, "email", "", "resy login email")
	c.Flags().StringVar(&password, "password", "", "resy login password")
	return c
}
