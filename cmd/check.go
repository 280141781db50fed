package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/accountbroker/internal/config"
	"github.com/teemow/accountbroker/internal/google"
)

const checkTimeout = 10 * time.Second

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and probe the credential store",
		Long: `Validate the environment configuration, open the credential store and
list the stored accounts. No request is sent to Google.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
			defer cancel()
			return runCheck(ctx, cmd.OutOrStdout(), cfg)
		},
	}
}

// runCheck prints one line per check and fails if any check failed.
func runCheck(ctx context.Context, w io.Writer, cfg config.Config) error {
	failed := 0
	report := func(name string, err error) {
		if err != nil {
			failed++
			fmt.Fprintf(w, "FAIL  %s: %v\n", name, err)
			return
		}
		fmt.Fprintf(w, "ok    %s\n", name)
	}

	cfgErr := cfg.Validate()
	report("configuration", cfgErr)
	report("google oauth client", cfg.ValidateGoogle())
	if _, err := callbackListenAddr(cfg.Google.RedirectURL); err != nil {
		report("redirect URL", err)
	} else {
		report("redirect URL "+cfg.Google.RedirectURL, nil)
	}

	scopes := cfg.Google.Scopes
	if len(scopes) == 0 {
		scopes = google.DefaultOAuthScopes
	}
	fmt.Fprintf(w, "      scopes: %s\n", strings.Join(scopes, " "))

	if cfgErr != nil {
		return fmt.Errorf("%d checks failed", failed)
	}

	logger, err := newLogger(io.Discard, cfg)
	if err != nil {
		return err
	}
	b, err := newBroker(ctx, cfg, logger, false)
	if err != nil {
		report("credential store "+cfg.Store.Backend, err)
		return fmt.Errorf("%d checks failed", failed)
	}
	defer b.close(ctx)

	accounts, err := b.creds.Accounts(ctx)
	report("credential store "+cfg.Store.Backend, err)
	if err == nil {
		authenticated := 0
		for _, a := range accounts {
			if a.Authenticated {
				authenticated++
			}
		}
		fmt.Fprintf(w, "      accounts: %d (%d authenticated)\n", len(accounts), authenticated)
	}

	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	return nil
}
