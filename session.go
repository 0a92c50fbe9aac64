package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	tea "charm.land/bubbletea/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/verigate/session-cli/apiclient"
	"github.com/verigate/session-cli/store"
	"github.com/verigate/session-cli/tui"
)

// Metric names read back for the request summary.
const (
	metricRefreshExchanges = "verigate_refresh_exchanges_total"
	metricRefreshWaiters   = "verigate_refresh_waiters_total"
)

// app carries the I/O and flags shared by every command.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	tty    func() bool
	flags  flags
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr, tty: isTTY}
}

// session is one configured API client with its store and metrics.
type session struct {
	cfg      *config
	client   *apiclient.Client
	store    apiclient.CredentialStore
	registry *prometheus.Registry
	log      zerolog.Logger
	close    func() error
}

// newStore opens the credential store selected by cfg.
func newStore(cfg *config) (apiclient.CredentialStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.store {
	case storeMemory:
		return store.NewMemory(), noop, nil
	case storeSQLite:
		s, err := store.OpenSQLite(cfg.dbPath, cfg.profile)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case storeFile:
		return store.NewFile(cfg.tokenFile, cfg.profile), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown store: %s", cfg.store)
	}
}

// newSession wires store, transport, metrics and client. d observes the
// session events of the client.
func newSession(cfg *config, d tui.Displayer, logger zerolog.Logger) (*session, error) {
	credStore, closeStore, err := newStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	transport, err := apiclient.NewHTTPTransport(cfg.requestTimeout, cfg.maxRetries)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	logger = logger.With().Str("profile", cfg.profile).Str("store", cfg.store).Logger()

	client, err := apiclient.New(cfg.serverURL, credStore,
		apiclient.WithTransport(transport),
		apiclient.WithLoginPath(cfg.loginPath),
		apiclient.WithRefreshPath(cfg.refreshPath),
		apiclient.WithLogoutPath(cfg.logoutPath),
		apiclient.WithMetrics(apiclient.NewMetrics(registry)),
		apiclient.WithObserver(d),
		apiclient.WithTerminator(func() {
			logger.Warn().Msg("session terminated, login required")
		}),
		apiclient.WithLogger(logger),
	)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	return &session{
		cfg:      cfg,
		client:   client,
		store:    credStore,
		registry: registry,
		log:      logger,
		close:    closeStore,
	}, nil
}

func (s *session) Close() error {
	return s.close()
}

// counterValue sums every series of the named counter.
func (s *session) counterValue(name string) float64 {
	families, err := s.registry.Gather()
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to gather metrics")
		return 0
	}

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// requestSummary renders the outcome of a request command.
func (s *session) requestSummary(total, failed int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d request(s): %d succeeded, %d failed\n", total, total-failed, failed)
	fmt.Fprintf(&b, "Refresh exchanges: %.0f (%.0f request(s) waited on one)",
		s.counterValue(metricRefreshExchanges),
		s.counterValue(metricRefreshWaiters),
	)
	return b.String()
}

// runSession loads the configuration and runs fn with a displayer and a
// session. Output goes to a BubbleTea program when stderr is a terminal,
// plain text otherwise.
func (a *app) runSession(ctx context.Context, fn func(context.Context, *session, tui.Displayer) error) error {
	cfg, err := loadConfig(&a.flags)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return err
	}
	warnInsecure(a.stderr, cfg.serverURL)
	logger := newLogger(a.stderr, cfg.logLevel)

	run := func(d tui.Displayer) error {
		s, err := newSession(cfg, d, logger)
		if err != nil {
			d.Fatal(err)
			return err
		}
		defer func() {
			if err := s.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close credential store")
			}
		}()

		if err := fn(ctx, s, d); err != nil {
			d.Fatal(err)
			return err
		}
		return nil
	}

	if !a.tty() {
		d := tui.NewPlainDisplayer(a.stderr)
		d.Banner()
		return run(d)
	}

	// Run TUI program on stderr so stdout pipes are not corrupted
	m := tui.NewModel()
	// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
	// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
	p := tea.NewProgram(m, tea.WithOutput(a.stderr), tea.WithInput(nil))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(a.stderr, "TUI error: %v\n", err)
		}
	}()

	d := tui.NewProgramDisplayer(p)
	d.Banner()
	runErr := run(d)
	p.Quit() // let BubbleTea drain terminal query responses before exiting
	wg.Wait()
	return runErr
}
