package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/api"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/cache"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/config"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/credentials"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/exporter"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/image"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/logger"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/preview"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/security"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/sink"
	"github.com/cyelis1224/moescape-exporter-sub001/internal/store"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagConfig  string
	flagVerbose bool
	flagToken   string
	flagCookie  string
	flagOutput  string
)

var ErrNoCredentials = errors.New("session credentials required: run 'moescape login' or set MOESCAPE_API_TOKEN")

type App struct {
	Out    io.Writer
	Err    io.Writer
	In     io.Reader
	GetEnv func(string) string

	LoadConfig func(path string) (config.Config, error)
	NewLogger  func(level, format string) (*logger.Logger, error)
	// HTTPClient, when set, is used for API calls and image downloads.
	HTTPClient     *http.Client
	SaverOptions   []image.SaverOption
	PreviewOptions []preview.Option
}

func DefaultApp() *App {
	return &App{
		Out:        os.Stdout,
		Err:        os.Stderr,
		In:         os.Stdin,
		GetEnv:     os.Getenv,
		LoadConfig: config.Load,
		NewLogger:  logger.New,
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	app := DefaultApp()
	rootCmd := newRootCmd(app)
	err := rootCmd.Execute()
	if errors.Is(err, exporter.ErrBusy) {
		// another trigger for the same chat is still running
		return nil
	}
	return err
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "moescape",
		Short: "Export Moescape chat history",
		Long: `moescape retrieves your chat history from Moescape and exports it
in portable formats.

Export formats:
  txt          plain text transcript
  sillytavern  SillyTavern chat (JSONL)
  openai       OpenAI-style messages (JSONL)
  json         full-fidelity JSON with every variation
  html         self-contained HTML page with inline images

Examples:
  moescape login
  moescape chats --sort images
  moescape export 3f2a... -f html -o ./exports
  moescape images download 3f2a... --exclude-portraits`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default $XDG_CONFIG_HOME/moescape/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&flagToken, "token", "", "session token (defaults to stored login or MOESCAPE_API_TOKEN)")
	cmd.PersistentFlags().StringVar(&flagCookie, "cookie", "", "session cookie header value")

	cmd.AddCommand(newChatsCmd(app))
	cmd.AddCommand(newMessagesCmd(app))
	cmd.AddCommand(newExportCmd(app))
	cmd.AddCommand(newImagesCmd(app))
	cmd.AddCommand(newBookmarksCmd(app))
	cmd.AddCommand(newPrefsCmd(app))
	cmd.AddCommand(newHistoryCmd(app))
	cmd.AddCommand(newCacheCmd(app))
	cmd.AddCommand(newLoginCmd(app))
	cmd.AddCommand(newLogoutCmd(app))

	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// session holds what a command needs for one invocation.
type session struct {
	cfg     config.Config
	log     *logger.Logger
	store   *store.Store
	svc     *exporter.Service
	sink    sink.Sink
	closers []func()
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	if s.log != nil {
		s.log.Sync()
	}
}

func (app *App) loadConfig() (config.Config, *logger.Logger, error) {
	cfg, err := app.LoadConfig(flagConfig)
	if err != nil {
		return config.Config{}, nil, err
	}
	level := cfg.Log.Level
	if flagVerbose {
		level = "debug"
	}
	log, err := app.NewLogger(level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

// openStore opens the local database only.
func (app *App) openStore() (*session, error) {
	cfg, log, err := app.loadConfig()
	if err != nil {
		return nil, err
	}
	sess := &session{cfg: cfg, log: log}

	path, err := cfg.StorePath()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	sess.store = st
	sess.closers = append(sess.closers, func() { st.Close() })
	return sess, nil
}

// openSession additionally wires the API client, cache, sink and service.
func (app *App) openSession(ctx context.Context) (*session, error) {
	sess, err := app.openStore()
	if err != nil {
		return nil, err
	}
	cfg, log := sess.cfg, sess.log

	credDir, err := config.ConfigDir()
	if err != nil {
		sess.Close()
		return nil, err
	}
	creds := credentials.NewStore(credDir)
	token, tokenSource := credentials.Resolve(flagToken, credentials.KindToken, creds, cfg.API.Token)
	cookie, cookieSource := credentials.Resolve(flagCookie, credentials.KindCookie, creds, cfg.API.Cookie)
	if token == "" && cookie == "" {
		sess.Close()
		return nil, ErrNoCredentials
	}
	// key names avoid the redacted words so the origins stay readable
	log.Debug("credentials resolved", "bearer_from", tokenSource, "session_from", cookieSource)

	clientOpts := []api.Option{api.WithLogger(log)}
	if app.HTTPClient != nil {
		clientOpts = append(clientOpts, api.WithHTTPClient(app.HTTPClient))
	}
	client := api.New(api.Config{
		BaseURL:    cfg.API.BaseURL,
		Token:      token,
		Cookie:     cookie,
		TimeoutSec: cfg.API.TimeoutSec,
		MaxRetries: cfg.API.MaxRetries,
		MetaHeader: cfg.API.MetaHeader,
	}, clientOpts...)

	backend, err := app.cacheBackend(ctx, sess)
	if err != nil {
		sess.Close()
		return nil, err
	}

	out, err := app.sink(ctx, sess)
	if err != nil {
		sess.Close()
		return nil, err
	}

	saverOpts := []image.SaverOption{
		image.WithParallel(cfg.Images.DownloadParallel),
		image.WithURLValidator(imageURLValidator(cfg)),
	}
	if app.HTTPClient != nil {
		saverOpts = append(saverOpts, image.WithHTTPClient(app.HTTPClient))
	}
	saverOpts = append(saverOpts, app.SaverOptions...)

	sess.sink = out
	sess.svc = exporter.New(exporter.Deps{
		Client:          client,
		Cache:           cache.New(backend, cache.WithLogger(log)),
		Log:             log,
		Saver:           image.NewSaver(saverOpts...),
		Sink:            out,
		History:         sess.store,
		PageSize:        cfg.API.PageSize,
		CountBatchSize:  cfg.Images.CountBatchSize,
		CountBatchDelay: time.Duration(cfg.Images.CountBatchDelayMs) * time.Millisecond,
	})
	return sess, nil
}

func (app *App) cacheBackend(ctx context.Context, sess *session) (cache.Backend, error) {
	switch sess.cfg.Cache.Backend {
	case "memory":
		return cache.NewMemoryBackend(), nil
	case "sqlite":
		return sess.store.CacheBackend(), nil
	}
	r := sess.cfg.Cache.Redis
	rdb, err := cache.DialRedis(ctx, r.Addr, r.Password, r.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	sess.closers = append(sess.closers, func() { rdb.Close() })
	sess.log.Debug("using redis cache", "addr", r.Addr)
	return cache.NewRedisBackend(rdb, r.Prefix), nil
}

func (app *App) sink(ctx context.Context, sess *session) (sink.Sink, error) {
	cfg := sess.cfg
	if cfg.Storage.Backend != "minio" {
		return sink.NewLocal(outputDir(cfg)), nil
	}
	m := cfg.Storage.MinIO
	s, err := sink.NewMinIO(sink.MinIOConfig{
		Endpoint:        m.Endpoint,
		AccessKeyID:     m.AccessKeyID,
		SecretAccessKey: m.SecretAccessKey,
		UseSSL:          m.UseSSL,
		Bucket:          m.Bucket,
		Region:          m.Region,
		Prefix:          m.Prefix,
	}, sess.log)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// imageURLValidator checks image URLs before download or preview; with
// images.strict_hosts only the service's own hosts pass.
func imageURLValidator(cfg config.Config) func(rawURL string) error {
	strict := cfg.Images.StrictHosts
	return func(rawURL string) error {
		return security.ValidateImageURL(rawURL, strict)
	}
}

func outputDir(cfg config.Config) string {
	if flagOutput != "" {
		return flagOutput
	}
	if cfg.Output.Dir != "" {
		return cfg.Output.Dir
	}
	return "."
}

// imagesDir is where a chat's images are downloaded by default.
func imagesDir(cfg config.Config, chatID string) string {
	return filepath.Join(outputDir(cfg), "images-"+chatID)
}
