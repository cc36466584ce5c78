// Package cli is the agency-dashboard command line: the TUI by default plus
// scriptable subcommands for the same backend operations.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agency-dashboard/internal/api"
	"agency-dashboard/internal/config"
	"agency-dashboard/internal/dashboard"
	"agency-dashboard/internal/push"
	"agency-dashboard/internal/utils"
)

const (
	formatPretty = "pretty"
	formatJSON   = "json"
)

type globalFlags struct {
	configPath string
	apiURL     string
	wsURL      string
	protocol   string
	noPush     bool
	verbose    bool
	format     string
}

// app carries what every subcommand needs once flags and config are read.
type app struct {
	flags  globalFlags
	cfg    config.Config
	logger *utils.Logger
	stdout io.Writer
	stderr io.Writer
}

// Run executes the command line in os.Args and returns the exit code.
func Run() int {
	return Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

// Execute runs args against a fresh command tree.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:   "agency-dashboard",
		Short: "Watch and command a team of automation agents",
		Long: `agency-dashboard talks to an agency backend over HTTP and its push
channel. Run without a subcommand to open the terminal dashboard.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
		RunE:               a.runTUI,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "config file (default: $AGENCY_DASHBOARD_HOME/config.yaml)")
	pf.StringVar(&a.flags.apiURL, "api-url", "", "backend HTTP base URL")
	pf.StringVar(&a.flags.wsURL, "ws-url", "", "backend push channel URL")
	pf.StringVar(&a.flags.protocol, "protocol", "", "backend protocol (rest|a2a)")
	pf.BoolVar(&a.flags.noPush, "no-push", false, "do not open the push channel")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "debug logging")
	pf.StringVarP(&a.flags.format, "format", "o", formatPretty, "output format (pretty|json)")

	root.AddCommand(
		a.newTUICmd(),
		a.newAgentsCmd(),
		a.newSendCmd(),
		a.newResultsCmd(),
		a.newUploadCmd(),
		a.newWatchCmd(),
		a.newExportCmd(),
		a.newConfigCmd(),
	)
	return root
}

func (a *app) configPath() string {
	if a.flags.configPath != "" {
		return a.flags.configPath
	}
	return config.DefaultPath()
}

// setup loads config, applies flag overrides and opens the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if a.flags.format != formatPretty && a.flags.format != formatJSON {
		return fmt.Errorf("unknown format %q (want pretty or json)", a.flags.format)
	}
	cfg, err := config.Load(a.configPath())
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("api-url") {
		cfg.Backend.URL = a.flags.apiURL
	}
	if flags.Changed("ws-url") {
		cfg.Push.URL = a.flags.wsURL
	}
	if flags.Changed("protocol") {
		cfg.Backend.Protocol = a.flags.protocol
	}
	if a.flags.noPush {
		cfg.Push.Enabled = false
	}
	if a.flags.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	if cfg.Logging.File != "" {
		logger, err := utils.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
		if err != nil {
			return err
		}
		a.logger = logger
	} else {
		a.logger = utils.NewWriterLogger(a.stderr, cfg.Logging.Level)
	}
	a.logger.Debugf("config: backend=%s protocol=%s push=%s (enabled=%t)",
		cfg.Backend.URL, cfg.Backend.Protocol, cfg.Push.URL, cfg.Push.Enabled)
	return nil
}

func (a *app) teardown(cmd *cobra.Command, args []string) error {
	if a.logger != nil {
		return a.logger.Close()
	}
	return nil
}

type backend interface {
	dashboard.Backend
	io.Closer
}

type restBackend struct {
	*api.Client
}

func (restBackend) Close() error { return nil }

func (a *app) newBackend() backend {
	switch a.cfg.Backend.Protocol {
	case config.ProtocolA2A:
		a.logger.Debugf("using A2A backend at %s", a.cfg.Backend.URL)
		return api.NewA2AClient(a.cfg.Backend.URL, &http.Client{Timeout: a.cfg.Backend.Timeout})
	default:
		return restBackend{api.NewClient(a.cfg.Backend.URL, a.cfg.Backend.Timeout,
			api.WithRateLimit(a.cfg.Backend.RateLimit.RequestsPerMinute, a.cfg.Backend.RateLimit.Burst),
			api.WithLogger(a.logger),
		)}
	}
}

var errPushDisabled = errors.New("push channel disabled")

func (a *app) dialPush(ctx context.Context) (*push.Channel, error) {
	if !a.cfg.Push.Enabled {
		return nil, errPushDisabled
	}
	return push.Dial(ctx, a.cfg.Push.URL,
		push.WithLogger(a.logger),
		push.WithHandshakeTimeout(a.cfg.Push.HandshakeTimeout),
	)
}

// newService builds a dashboard service. withPush opens the push channel;
// a channel that fails to open is logged and the service runs without it.
func (a *app) newService(ctx context.Context, withPush bool) (*dashboard.Service, func()) {
	b := a.newBackend()
	var ch dashboard.Channel
	if withPush {
		c, err := a.dialPush(ctx)
		switch {
		case err == nil:
			ch = c
		case errors.Is(err, errPushDisabled):
		default:
			a.logger.Warnf("push channel unavailable: %v", err)
		}
	}
	svc := dashboard.New(b, ch, dashboard.WithLogger(a.logger))
	return svc, func() {
		if err := svc.Close(); err != nil {
			a.logger.Debugf("close push channel: %v", err)
		}
		_ = b.Close()
	}
}
