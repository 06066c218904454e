package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
	"github.com/muesli/termenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mongo-query-top/internal/advisor"
	"mongo-query-top/internal/alert"
	"mongo-query-top/internal/api"
	"mongo-query-top/internal/atlas"
	"mongo-query-top/internal/config"
	"mongo-query-top/internal/db"
	"mongo-query-top/internal/geo"
	"mongo-query-top/internal/logging"
	"mongo-query-top/internal/metrics"
	"mongo-query-top/internal/prefs"
	"mongo-query-top/internal/render"
	"mongo-query-top/internal/snapshot"
	"mongo-query-top/internal/tui"
)

const (
	defaultWidth  = 120
	defaultHeight = 40
)

type options struct {
	server       string
	settingsFile string
	uri          string
	ip           string
	refresh      float64
	minTime      float64
	all          bool
	logThreshold float64
	api          bool
	port         int
	once         bool
	noColor      bool
	verbose      bool
}

var stdinIsTerminal = func() bool { return term.IsTerminal(os.Stdin.Fd()) }

// connectDB is replaced in tests.
var connectDB = func(ctx context.Context, uri string) (db.Connector, error) {
	return db.Connect(ctx, uri)
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "mqt",
		Short: "Live view of the operations running on a MongoDB server",
		Long: `mqt polls currentOp on a MongoDB server and shows the running operations,
slowest last, with their sanitized query, plan summary and client. It runs as
a terminal dashboard, as a JSON/WebSocket API (--api) or prints once (--once).`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd, opts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.server, "config", "c", config.DefaultServer, "server profile to monitor")
	pf.StringVar(&opts.settingsFile, "settings", "", "settings file (default mqt.{json,yaml} in . or ./config)")
	pf.StringVar(&opts.uri, "uri", "", "connection string, overrides the profile")
	pf.BoolVar(&opts.noColor, "no-color", false, "disable colours")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	f := cmd.Flags()
	f.StringVar(&opts.ip, "ip", "", "only show operations from this client IP")
	f.Float64Var(&opts.refresh, "refresh", 2, "refresh interval in seconds")
	f.Float64Var(&opts.minTime, "minTime", 1, "hide operations running for less than this many seconds")
	f.BoolVar(&opts.all, "all", false, "include internal and housekeeping operations")
	f.Float64Var(&opts.logThreshold, "log", 10, "write operations running longer than this many seconds to disk, 0 disables")
	f.BoolVar(&opts.api, "api", false, "serve the HTTP API instead of the terminal dashboard")
	f.IntVar(&opts.port, "port", 3000, "HTTP API port")
	f.BoolVar(&opts.once, "once", false, "print the operations once and exit")

	cmd.AddCommand(newKillCmd(opts), newAdviseCmd(opts), newServersCmd(opts))
	return cmd
}

// session is what every command needs once settings are loaded.
type session struct {
	v      *viper.Viper
	cfg    *config.Config
	name   string
	uri    string
	level  string
	logger *logrus.Entry
}

func (o *options) logLevel(cfg *config.Config) string {
	if o.verbose {
		return "debug"
	}
	return cfg.LogLevel
}

// loadSettings reads the settings file and applies logging and colour
// options. It does not resolve the server.
func loadSettings(opts *options) (*viper.Viper, *config.Config, error) {
	v := viper.New()
	cfg, err := config.Load(v, opts.settingsFile)
	if err != nil {
		return nil, nil, err
	}
	logging.Configure(opts.logLevel(cfg), os.Stderr)
	if opts.noColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	return v, cfg, nil
}

func openSession(ctx context.Context, opts *options) (*session, error) {
	v, cfg, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}

	name, server, err := resolveServer(cfg, opts.server)
	if err != nil {
		return nil, err
	}

	uri := opts.uri
	if uri == "" {
		uri, err = server.ConnectionURI(ctx, atlas.NewClient())
		if err != nil {
			return nil, fmt.Errorf("failed to resolve connection string for %q: %w", name, err)
		}
	}

	return &session{
		v:      v,
		cfg:    cfg,
		name:   name,
		uri:    uri,
		level:  opts.logLevel(cfg),
		logger: logging.Logger.WithField("server", name),
	}, nil
}

// resolveServer finds the profile for name, asking on a terminal when it
// does not exist.
func resolveServer(cfg *config.Config, name string) (string, config.Server, error) {
	server, err := cfg.Server(name)
	if err == nil {
		return name, server, nil
	}
	names := cfg.ServerNames()
	if !errors.Is(err, config.ErrUnknownServer) || len(names) == 0 || !stdinIsTerminal() {
		return "", config.Server{}, err
	}

	picked, perr := config.PickServer(name, names)
	if perr != nil {
		return "", config.Server{}, perr
	}
	server, err = cfg.Server(picked)
	return picked, server, err
}

func runMonitor(cmd *cobra.Command, opts *options) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}

	// the dashboard owns stdout, so logs go to a file
	dashboard := !opts.api && !opts.once
	if dashboard {
		f, err := logging.OpenFile(filepath.Join(s.cfg.LogDir, s.name))
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logging.Configure(s.level, f)
	}
	config.Watch(s.v, func(level string) {
		if opts.verbose {
			return
		}
		logging.Configure(level, nil)
	})

	conn, err := connectDB(ctx, s.uri)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	s.logger.WithField("uri", render.RedactURI(s.uri)).Info("Connected")

	p := prefs.New(prefs.Settings{
		RefreshInterval: opts.refresh,
		MinTime:         opts.minTime,
		ShowAll:         opts.all,
		LogThreshold:    opts.logThreshold,
		IP:              opts.ip,
	})

	resolver, closeGeo, err := newResolver(s.cfg.GeoIPDatabase)
	if err != nil {
		return err
	}
	defer closeGeo()

	m := metrics.New()
	storeOpts := []snapshot.Option{snapshot.WithMetrics(m)}
	if slack := alert.NewSlack(s.cfg.Slack.WebhookURL, s.name, m); slack != nil {
		storeOpts = append(storeOpts, snapshot.WithNotifier(slack))
	}
	store := snapshot.New(s.cfg.LogDir, s.name, p, storeOpts...)

	processor := render.NewProcessor(resolver)

	switch {
	case opts.api:
		srv := &api.Server{
			Name:      s.name,
			Conn:      conn,
			Prefs:     p,
			Processor: processor,
			Renderer:  render.NewJSON(s.name, s.uri),
			Store:     store,
			Metrics:   m,
		}
		if s.cfg.Gemini.APIKey != "" {
			adv, err := advisor.New(ctx, s.cfg.Gemini.APIKey, s.cfg.Gemini.Model)
			if err != nil {
				return err
			}
			srv.Advisor = adv
		}
		return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", opts.port))

	case opts.once:
		terminal := render.NewTerminal(s.name, s.uri)
		width, height, err := term.GetSize(os.Stdout.Fd())
		if err != nil {
			width, height = defaultWidth, defaultHeight
		}
		terminal.Resize(width, height)
		out, err := tui.RenderOnce(ctx, tui.Deps{
			Conn:      conn,
			Prefs:     p,
			Processor: processor,
			Terminal:  terminal,
			Store:     store,
			Metrics:   m,
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), out)
		return err

	default:
		return tui.Run(ctx, tui.Deps{
			Conn:      conn,
			Prefs:     p,
			Processor: processor,
			Terminal:  render.NewTerminal(s.name, s.uri),
			Store:     store,
			Metrics:   m,
		})
	}
}

// newResolver returns a resolver backed by the MaxMind database at path,
// or one that only strips ports when path is empty.
func newResolver(path string) (*geo.Resolver, func(), error) {
	if path == "" {
		return geo.NewResolver(nil), func() {}, nil
	}
	mm, err := geo.OpenMaxMind(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return geo.NewResolver(mm), func() { _ = mm.Close() }, nil
}
