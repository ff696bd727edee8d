package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/schedkit/exchange-bridge/internal/exchange"
)

func newValidateCmd() *cobra.Command {
	var (
		url         string
		username    string
		password    string
		authMethod  int
		ewsVersion  int
		probe       bool
		probeWithin time.Duration
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an Exchange connection configuration",
		Long: `Validate an Exchange connection configuration without storing it.

By default only offline rule checks run. With --probe, the command also
connects to the server and lists the mailbox's calendars to verify the
credentials end to end.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := exchange.Config{
				URL:                  url,
				Username:             username,
				Password:             password,
				AuthenticationMethod: exchange.AuthMethod(authMethod),
				ExchangeVersion:      exchange.Version(ewsVersion),
			}

			result := exchange.Validate(cfg)
			if result.IsValid {
				cmd.Println("Configuration is valid.")
			} else {
				cmd.Println("Configuration is invalid:")
				for _, msg := range result.Errors {
					cmd.Printf("  - %s\n", msg)
				}
			}

			if suggestions, err := exchange.Suggestions(cfg); err == nil && len(suggestions) > 0 {
				cmd.Println("Suggestions:")
				for _, msg := range suggestions {
					cmd.Printf("  - %s\n", msg)
				}
			}

			if !result.IsValid {
				return fmt.Errorf("configuration is invalid")
			}

			if probe {
				ctx, cancel := context.WithTimeout(cmd.Context(), probeWithin)
				defer cancel()

				svc := exchange.NewCalendarServiceFromConfig(cfg)
				defer svc.Cleanup()

				calendars, err := svc.ListCalendars(ctx)
				if err != nil {
					return fmt.Errorf("connection probe failed: %w", err)
				}
				cmd.Printf("Connection probe succeeded: %d calendar(s) found.\n", len(calendars))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "EWS endpoint URL (e.g. https://mail.example.com/EWS/Exchange.asmx)")
	cmd.Flags().StringVar(&username, "username", "", "Mailbox username (email address)")
	cmd.Flags().StringVar(&password, "password", "", "Mailbox password")
	cmd.Flags().IntVar(&authMethod, "auth-method", 0, "Authentication method: 0 (Standard) or 1 (NTLM)")
	cmd.Flags().IntVar(&ewsVersion, "exchange-version", int(exchange.Exchange2013SP1), "Exchange version ordinal (0 = 2007 ... 9 = 2019)")
	cmd.Flags().BoolVar(&probe, "probe", false, "Connect to the server and list calendars")
	cmd.Flags().DurationVar(&probeWithin, "probe-timeout", 30*time.Second, "Timeout for the connection probe")

	return cmd
}
