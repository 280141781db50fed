package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/accountbroker/internal/config"
	"github.com/teemow/accountbroker/internal/credentials"
	"github.com/teemow/accountbroker/internal/logging"
	"github.com/teemow/accountbroker/internal/server"
)

const defaultLoginTimeout = 5 * time.Minute

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage brokered accounts from the terminal",
		Long: `Manage the accounts held in the configured credential store.

list, remove and clear only need the credential store. login also needs the
Google OAuth client (GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET) and receives
the redirect on the host and port of GOOGLE_REDIRECT_URI.`,
	}

	cmd.AddCommand(newAccountsListCmd())
	cmd.AddCommand(newAccountsRemoveCmd())
	cmd.AddCommand(newAccountsClearCmd())
	cmd.AddCommand(newAccountsLoginCmd())

	return cmd
}

// withOfflineBroker runs fn against a broker that has no Google client.
func withOfflineBroker(cmd *cobra.Command, fn func(ctx context.Context, b *broker) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := newBroker(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer b.close(ctx)

	return fn(ctx, b)
}

func newAccountsListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known accounts and their credential status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOfflineBroker(cmd, func(ctx context.Context, b *broker) error {
				accounts, err := b.creds.Accounts(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeAccountsJSON(cmd.OutOrStdout(), accounts)
				}
				return writeAccountsTable(cmd.OutOrStdout(), accounts)
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the accounts as JSON")

	return cmd
}

func writeAccountsJSON(w io.Writer, accounts []credentials.AccountStatus) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(server.AccountsResponse{Accounts: accounts, Total: len(accounts)})
}

func writeAccountsTable(w io.Writer, accounts []credentials.AccountStatus) error {
	if len(accounts) == 0 {
		_, err := fmt.Fprintln(w, "No accounts.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EMAIL\tAUTHENTICATED\tEXPIRES")
	for _, a := range accounts {
		expires := "-"
		if !a.Expiry.IsZero() {
			expires = a.Expiry.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\n", a.Account, a.Authenticated, expires)
	}
	return tw.Flush()
}

func newAccountsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <email>",
		Short: "Remove an account and its stored credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOfflineBroker(cmd, func(ctx context.Context, b *broker) error {
				if err := b.creds.Remove(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Successfully removed account: %s\n", credentials.NormalizeAccount(args[0]))
				return nil
			})
		},
	}
}

func newAccountsClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to remove every account without --yes")
			}
			return withOfflineBroker(cmd, func(ctx context.Context, b *broker) error {
				n, err := b.creds.Clear(ctx)
				if err != nil {
					return fmt.Errorf("removed %d accounts before failing: %w", n, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d accounts.\n", n)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm removal of every account")

	return cmd
}

func newAccountsLoginCmd() *cobra.Command {
	var (
		timeout    time.Duration
		noCallback bool
	)

	cmd := &cobra.Command{
		Use:   "login [email]",
		Short: "Authorize an account in the browser",
		Long: `Start an authorization, print the consent URL and wait for the browser
redirect. Without an email the account is taken from the identity that
completes the consent.

With --no-callback no listener is started; another broker process sharing
the same credential store must receive the redirect.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var account string
			if len(args) == 1 {
				account = args[0]
			}
			return runLogin(cmd, account, timeout, noCallback)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", defaultLoginTimeout, "How long to wait for the browser redirect")
	cmd.Flags().BoolVar(&noCallback, "no-callback", false, "Do not start a callback listener")

	return cmd
}

func runLogin(cmd *cobra.Command, account string, timeout time.Duration, noCallback bool) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg)
	if err != nil {
		return err
	}

	b, err := newBroker(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer b.close(context.WithoutCancel(ctx))

	auth, err := b.flows.Begin(ctx, account)
	if err != nil {
		return err
	}

	if !noCallback {
		addr, err := callbackListenAddr(cfg.Google.RedirectURL)
		if err != nil {
			return err
		}
		srvCtx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			err := runHTTPServer(srvCtx, b.sc, server.HTTPConfig{Addr: addr, Callback: true, RateLimit: -1}, logger)
			if err != nil {
				logger.Error("callback listener failed", logging.Err(err))
				cancel()
			}
		}()
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Open this URL in your browser to authorize the account:")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  "+auth.URL)
	fmt.Fprintln(out)

	waitCtx, waitCancel := context.WithTimeout(ctx, timeout)
	defer waitCancel()

	got, err := b.flows.Await(waitCtx, auth.State)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("no authorization received within %s", timeout)
		}
		return err
	}
	fmt.Fprintf(out, "Successfully authenticated account: %s\n", got)
	return nil
}

// callbackListenAddr derives the local listen address from the redirect URL
// registered with Google. The redirect path must be the broker's callback
// path.
func callbackListenAddr(redirect string) (string, error) {
	u, err := url.Parse(redirect)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("redirect URL %q has no host", redirect)
	}
	if u.Path != server.CallbackPath {
		return "", fmt.Errorf("redirect URL path %q must be %s", u.Path, server.CallbackPath)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		default:
			return "", fmt.Errorf("redirect URL %q has an unsupported scheme", redirect)
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
