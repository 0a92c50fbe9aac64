package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/verigate/session-cli/apiclient"
	"github.com/verigate/session-cli/tui"
)

const (
	// maxParallel bounds --parallel.
	maxParallel = 64
	// expiringSoon is when status starts warning about the access token.
	expiringSoon = time.Minute
)

func (a *app) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "verigate",
		Short:         "Authenticated client for the verigate API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.flags.serverURL, "server-url", "", "API server URL (default: http://localhost:8080 or SERVER_URL env)")
	pf.StringVar(&a.flags.profile, "profile", "", "Credential profile (default: default or PROFILE env)")
	pf.StringVar(&a.flags.store, "store", "", "Credential store: file, sqlite or memory (default: file or STORE env)")
	pf.StringVar(&a.flags.tokenFile, "token-file", "", "Token storage file (default: .verigate-tokens.json or TOKEN_FILE env)")
	pf.StringVar(&a.flags.dbPath, "db-path", "", "SQLite database path (default: .verigate.db or DB_PATH env)")
	pf.StringVar(&a.flags.loginPath, "login-path", "", "Login endpoint path (or LOGIN_PATH env)")
	pf.StringVar(&a.flags.refreshPath, "refresh-path", "", "Refresh-token endpoint path (or REFRESH_PATH env)")
	pf.StringVar(&a.flags.logoutPath, "logout-path", "", "Logout endpoint path (or LOGOUT_PATH env)")
	pf.StringVar(&a.flags.requestTimeout, "timeout", "", "Per-request timeout (default: 30s or REQUEST_TIMEOUT env)")
	pf.StringVar(&a.flags.maxRetries, "max-retries", "", "Transport retries for failed requests (default: 0 or MAX_RETRIES env)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level (default: disabled or LOG_LEVEL env)")

	rootCmd.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.statusCmd(),
		a.requestCmd(),
	)

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	return rootCmd
}

// loginCmd signs in with email and password and stores the credential.
func (a *app) loginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the issued credential",
		Args:  cobra.NoArgs,
		// Prompt before any TUI takes over the terminal
		PreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if password == "" {
				password = os.Getenv("PASSWORD")
			}
			email, password, err = a.promptCredentials(email, password)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSession(cmd.Context(), func(ctx context.Context, s *session, d tui.Displayer) error {
				if _, err := s.client.Login(ctx, email, password); err != nil {
					d.LoginFailed(err)
					return err
				}
				d.LoginOK(email)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (or PASSWORD env; prompted when omitted)")
	return cmd
}

// promptCredentials asks for whatever is missing. The password is read
// without echo when stdin is a terminal.
func (a *app) promptCredentials(email, password string) (string, string, error) {
	reader := bufio.NewReader(a.stdin)

	if email == "" {
		fmt.Fprint(a.stderr, "Email: ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", "", fmt.Errorf("failed to read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}

	if password == "" {
		fmt.Fprint(a.stderr, "Password: ")
		if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			raw, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(a.stderr)
			if err != nil {
				return "", "", fmt.Errorf("failed to read password: %w", err)
			}
			password = string(raw)
		} else {
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return "", "", fmt.Errorf("failed to read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
	}

	if email == "" || password == "" {
		return "", "", errors.New("email and password are required")
	}
	return email, password, nil
}

// logoutCmd ends the session on the server and forgets the credential.
func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSession(cmd.Context(), func(ctx context.Context, s *session, d tui.Displayer) error {
				if err := s.client.Logout(ctx); err != nil {
					return err
				}
				d.LoggedOut()
				return nil
			})
		},
	}
}

// statusCmd shows the stored credential without contacting the server.
func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSession(cmd.Context(), func(ctx context.Context, s *session, d tui.Displayer) error {
				cred, err := s.client.Credential(ctx)
				if err != nil {
					return fmt.Errorf("failed to read credentials: %w", err)
				}
				if cred == nil {
					d.CredentialsNotFound()
					return nil
				}

				d.CredentialsFound()
				now := time.Now()
				var expiresIn time.Duration
				if !cred.ExpiresAt.IsZero() {
					expiresIn = cred.ExpiresAt.Sub(now).Round(time.Second)
				}
				d.Status(cred.Preview(), expiresIn)

				summary := fmt.Sprintf("Profile %q (%s store) is signed in", s.cfg.profile, s.cfg.store)
				switch {
				case cred.Expired(now):
					summary += "\nAccess token has expired, it is refreshed on the next request"
				case cred.ExpiresWithin(now, expiringSoon):
					summary += "\nAccess token expires soon, it is refreshed on the next rejected request"
				}
				d.Done(summary)
				return nil
			})
		},
	}
}

// requestCmd sends METHOD PATH, optionally as a burst of concurrent copies.
func (a *app) requestCmd() *cobra.Command {
	var (
		data     string
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send an authenticated API request",
		Example: `  verigate request GET /api/v1/users/me
  verigate request POST /api/v1/items --data '{"name":"demo"}'
  verigate request GET /api/v1/items --parallel 5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if parallel < 1 || parallel > maxParallel {
				return fmt.Errorf("--parallel must be between 1 and %d, got: %d", maxParallel, parallel)
			}
			var body any
			if data != "" {
				if !jsoniter.Valid([]byte(data)) {
					return errors.New("--data must be valid JSON")
				}
				body = []byte(data)
			}
			req := apiclient.Request{
				Method: strings.ToUpper(args[0]),
				Path:   args[1],
				Body:   body,
			}

			return a.runSession(cmd.Context(), func(ctx context.Context, s *session, d tui.Displayer) error {
				return a.sendBurst(ctx, s, d, req, parallel)
			})
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "JSON request body")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "Number of concurrent copies to send")
	return cmd
}

// sendBurst issues n copies of req through one client. Successful bodies
// are written to stdout in request order.
func (a *app) sendBurst(ctx context.Context, s *session, d tui.Displayer, req apiclient.Request, n int) error {
	d.Requesting(req.Method, req.Path, n)

	bodies := make([][]byte, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			r := req
			errs[i] = s.client.Do(ctx, &r, &bodies[i])
		}(i)
	}
	wg.Wait()

	var (
		failed  int
		lastErr error
	)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			failed++
			lastErr = errs[i]
			continue
		}
		d.ResponseOK(i+1, string(bodies[i]))
		fmt.Fprintln(a.stdout, string(bodies[i]))
	}

	d.Done(s.requestSummary(n, failed))
	if failed == 0 {
		return nil
	}
	if n == 1 {
		return lastErr
	}
	return fmt.Errorf("%d of %d requests failed: %w", failed, n, lastErr)
}
