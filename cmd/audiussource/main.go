// Package main provides the audiussource CLI application entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"audiussource/internal/core"
	httpserver "audiussource/internal/http"
	"audiussource/pkg/audius"
)

const (
	envPrefix         = "AUDIUSSOURCE"
	defaultServerHost = "0.0.0.0"
	version           = "1.0.0"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "audiussource",
	Short: "audiussource - Audius track resolution and streaming",
	Long: `audiussource resolves Audius track, playlist and album URLs and "audsearch:" queries
into tracks, and serves their audio over HTTP with range support.`,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var loadCmd = &cobra.Command{
	Use:   "load <identifier>",
	Short: "Resolve an Audius URL or audsearch: query and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runLoad,
}

var streamCmd = &cobra.Command{
	Use:   "stream <track-id|encoded-track>",
	Short: "Download the audio of a track",
	Args:  cobra.ExactArgs(1),
	RunE:  runStream,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := core.DefaultConfig()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", defaults.Log.Format, "log format (json, text)")
	rootCmd.PersistentFlags().String("audius-discovery-url", defaults.Audius.DiscoveryURL, "Audius discovery provider list URL")
	rootCmd.PersistentFlags().String("audius-app-name", defaults.Audius.AppName, "app_name sent to the Audius API")
	rootCmd.PersistentFlags().Duration("audius-request-timeout", defaults.Audius.RequestTimeout, "Timeout of a single Audius API request")
	rootCmd.PersistentFlags().Int("audius-max-concurrent-requests", defaults.Audius.MaxConcurrentRequests, "Maximum in-flight Audius API requests")
	rootCmd.PersistentFlags().Duration("audius-stream-connect-timeout", defaults.Audius.StreamConnectTimeout, "Timeout for connecting to a media URL")
	rootCmd.PersistentFlags().String("server-host", defaultServerHost, "HTTP server host")
	rootCmd.PersistentFlags().Int("server-port", defaults.Server.Port, "HTTP server port")
	rootCmd.PersistentFlags().Duration("server-read-timeout", defaults.Server.ReadTimeout, "HTTP server read timeout")
	rootCmd.PersistentFlags().Int("load-limit-per-minute", defaults.Server.LoadLimitPerMinute, "Maximum /v1 requests per client per minute (0 disables)")
	rootCmd.PersistentFlags().Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	streamCmd.Flags().StringP("output", "o", "", "output file (default is <track-id>.mp3)")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(loadCmd, streamCmd)
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureAudius(cfg)
	configureServer(cfg)
	configureLog(cfg)

	return cfg
}

func configureAudius(cfg *core.Config) {
	cfg.Audius.DiscoveryURL = viper.GetString("audius-discovery-url")
	cfg.Audius.AppName = viper.GetString("audius-app-name")
	cfg.Audius.RequestTimeout = viper.GetDuration("audius-request-timeout")
	cfg.Audius.MaxConcurrentRequests = viper.GetInt("audius-max-concurrent-requests")
	cfg.Audius.StreamConnectTimeout = viper.GetDuration("audius-stream-connect-timeout")
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaultServerHost
	}
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Server.ReadTimeout = viper.GetDuration("server-read-timeout")
	cfg.Server.LoadLimitPerMinute = viper.GetInt("load-limit-per-minute")
}

func configureLog(cfg *core.Config) {
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "text") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	// Command output goes to stdout; keep logs out of it.
	cfg.OutputPaths = []string{"stderr"}

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func newSource(ctx context.Context, observer audius.RequestObserver) *audius.Source {
	opts := config.Audius.Options()
	opts.Observer = observer
	return audius.NewSource(ctx, opts, logger.Named("audius"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting audiussource",
		zap.String("version", version),
		zap.String("discovery_url", config.Audius.DiscoveryURL),
		zap.String("app_name", config.Audius.AppName))

	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	metrics := httpserver.NewMetrics()
	source := newSource(ctx, metrics.ObserveUpstream)
	if !source.Ready() {
		logger.Warn("No discovery provider selected; lookups will fail until restart")
	}
	httpServer := httpserver.NewServer(&config.Server, source, metrics, logger.Named("http"))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpServer.Start(gCtx)
	})

	logger.Info("audiussource started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)),
		zap.String("provider", string(source.Provider())))

	if err := g.Wait(); err != nil {
		logger.Error("audiussource stopped with error", zap.Error(err))
		return err
	}

	logger.Info("audiussource stopped gracefully")
	return nil
}

func runLoad(cmd *cobra.Command, args []string) error {
	defer func() { _ = logger.Sync() }()

	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source := newSource(ctx, nil)
	result, err := source.LoadItem(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", args[0], err)
	}

	return printResult(cmd.OutOrStdout(), source, result)
}

type trackOutput struct {
	Encoded    string `json:"encoded"`
	ID         string `json:"id"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	LengthMs   int64  `json:"lengthMs"`
	URI        string `json:"uri"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
}

type resultOutput struct {
	LoadType string        `json:"loadType"`
	Name     string        `json:"name,omitempty"`
	Kind     string        `json:"kind,omitempty"`
	Tracks   []trackOutput `json:"tracks"`
}

func printResult(w io.Writer, source *audius.Source, result audius.LoadResult) error {
	out := resultOutput{LoadType: result.Type.String(), Tracks: []trackOutput{}}

	var tracks []audius.Track
	switch result.Type {
	case audius.LoadTrack:
		tracks = []audius.Track{*result.Track}
	case audius.LoadCollection:
		out.Name = result.Collection.Name
		out.Kind = result.Collection.Kind.String()
		tracks = result.Collection.Tracks
	}

	for _, track := range tracks {
		encoded, err := source.EncodeTrack(track)
		if err != nil {
			return err
		}
		lengthMs := int64(-1)
		if track.Duration() != audius.DurationUnknown {
			lengthMs = track.Duration().Milliseconds()
		}
		out.Tracks = append(out.Tracks, trackOutput{
			Encoded:    encoded,
			ID:         track.ID(),
			Title:      track.Title(),
			Author:     track.Author(),
			LengthMs:   lengthMs,
			URI:        track.URI(),
			ArtworkURL: track.ArtworkURL(),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runStream(cmd *cobra.Command, args []string) error {
	defer func() { _ = logger.Sync() }()

	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source := newSource(ctx, nil)

	track, err := resolveStreamTarget(ctx, source, args[0])
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = track.ID() + ".mp3"
	}

	stream, err := source.StreamHandle(track).Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open stream for %s: %w", track.ID(), err)
	}
	defer func() {
		_ = stream.Close()
	}()

	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}

	written, err := io.Copy(file, stream)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	logger.Info("Stream saved",
		zap.String("track_id", track.ID()),
		zap.String("title", track.Title()),
		zap.String("output", output),
		zap.Int64("bytes", written))
	return nil
}

// resolveStreamTarget accepts an encoded track or a bare track id.
func resolveStreamTarget(ctx context.Context, source *audius.Source, arg string) (audius.Track, error) {
	if track, err := source.DecodeTrack(arg); err == nil {
		return track, nil
	}

	result, err := source.TrackByID(ctx, arg)
	if err != nil {
		return audius.Track{}, fmt.Errorf("failed to load track %s: %w", arg, err)
	}
	if result.Type != audius.LoadTrack {
		return audius.Track{}, fmt.Errorf("track %s not found", arg)
	}
	return *result.Track, nil
}

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(".env.example", []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("Successfully generated .env.example file")
	return nil
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	content.WriteString("# =============================================================================\n")
	content.WriteString("# audiussource Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("#\n")
	content.WriteString("# Format: " + envPrefix + "_<SECTION>_<SETTING>=value\n")
	content.WriteString("# CLI equivalent: --<section>-<setting>\n")
	content.WriteString("#\n\n")

	generateSection(&content, cmd, "Audius API", []string{
		"audius-discovery-url",
		"audius-app-name",
		"audius-request-timeout",
		"audius-max-concurrent-requests",
		"audius-stream-connect-timeout",
	})
	generateSection(&content, cmd, "HTTP Server", []string{
		"server-host",
		"server-port",
		"server-read-timeout",
		"load-limit-per-minute",
	})
	generateSection(&content, cmd, "Logging", []string{
		"log-level",
		"log-format",
	})

	return content.String()
}

func generateSection(content *strings.Builder, cmd *cobra.Command, title string, flags []string) {
	content.WriteString("# -----------------------------------------------------------------------------\n")
	fmt.Fprintf(content, "# %s\n", title)
	content.WriteString("# -----------------------------------------------------------------------------\n")
	fmt.Fprintf(content, "# CLI: --%s\n", strings.Join(flags, ", --"))

	for _, name := range flags {
		usage := ""
		if f := cmd.PersistentFlags().Lookup(name); f != nil {
			usage = f.Usage
		}
		def := getDefaultValueString(cmd, name)
		fmt.Fprintf(content, "%s=%s  # %s (default: %s)\n", flagToEnvVar(name), def, usage, def)
	}
	content.WriteString("\n")
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func getDefaultValueString(cmd *cobra.Command, flagName string) string {
	if f := cmd.PersistentFlags().Lookup(flagName); f != nil {
		return f.DefValue
	}
	return ""
}
