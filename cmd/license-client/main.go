// license-client manages the entitlement of one installation against a
// license authority: storing the key, activating the site, checking status
// and fetching updates.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"licensekit/internal/client"
	"licensekit/internal/config"
	"licensekit/internal/infrastructure"
	"licensekit/internal/license"
	"licensekit/pkg/contracts"
)

const usage = `Usage: license-client [flags] <command> [args]

Commands:
  set-key <key>   store a license key and forget the previous one
  activate        claim an activation slot for this site
  deactivate      release this site's activation slot
  status          resolve the entitlement and print the local record
  update-check    ask the authority for a newer release
  download        download the latest release package
  watch           check for updates periodically until one is found

Flags:
`

// options are the command-line overrides of the client configuration
type options struct {
	configPath     string
	authority      string
	product        string
	site           string
	stateFile      string
	cacheBackend   string
	currentVersion string
	out            string
	interval       time.Duration
	verbose        bool
	showVersion    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options
	flags := pflag.NewFlagSet("license-client", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.authority, "authority", "", "license authority base URL")
	flags.StringVar(&opts.product, "product", "", "product slug")
	flags.StringVar(&opts.site, "site", "", "site URL of this installation")
	flags.StringVar(&opts.stateFile, "state-file", "", "path of the signed entitlement record")
	flags.StringVar(&opts.cacheBackend, "cache", "", "cache backend: memory or redis")
	flags.StringVar(&opts.currentVersion, "current-version", "", "installed product version")
	flags.StringVarP(&opts.out, "out", "o", "", "download destination (default: <product>-<version>.zip)")
	flags.DurationVar(&opts.interval, "interval", 12*time.Hour, "update check interval for watch")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")
	flags.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		fmt.Fprintln(stdout, contracts.GetFullVersionString())
		return nil
	}

	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return errors.New("missing command")
	}
	command, cmdArgs := rest[0], rest[1:]

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logCfg := cfg.Logging
	logCfg.Output = "console"
	if opts.verbose {
		logCfg.Level = "debug"
	} else if !strings.EqualFold(logCfg.Level, "debug") {
		logCfg.Level = "warn"
	}
	logger, err := infrastructure.InitializeLoggerWithWriter(logCfg, stderr)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ent, err := client.NewFromConfig(ctx, cfg.Client, logger)
	if err != nil {
		return err
	}
	defer ent.Close()

	cmd := &commands{
		ent:    ent,
		cfg:    cfg.Client,
		opts:   opts,
		out:    stdout,
		logger: logger,
	}

	switch command {
	case "set-key":
		if len(cmdArgs) != 1 {
			return errors.New("set-key takes exactly one license key")
		}
		return cmd.setKey(ctx, cmdArgs[0])
	case "activate":
		return cmd.activate(ctx)
	case "deactivate":
		return cmd.deactivate(ctx)
	case "status":
		return cmd.status(ctx)
	case "update-check":
		return cmd.updateCheck(ctx)
	case "download":
		return cmd.download(ctx)
	case "watch":
		return cmd.watch(ctx)
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// loadConfig loads the configuration and applies flag overrides
func loadConfig(opts options) (*config.Config, error) {
	if opts.configPath != "" {
		if err := os.Setenv(config.EnvPrefix+"_CONFIG", opts.configPath); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	c := &cfg.Client
	if opts.authority != "" {
		c.AuthorityURL = opts.authority
	}
	if opts.product != "" {
		c.ProductSlug = opts.product
	}
	if opts.site != "" {
		c.SiteURL = opts.site
	}
	if opts.stateFile != "" {
		c.StateFile = opts.stateFile
	}
	if opts.cacheBackend != "" {
		c.CacheBackend = opts.cacheBackend
	}
	if opts.currentVersion != "" {
		c.ProductVersion = opts.currentVersion
	}
	return cfg, nil
}

type commands struct {
	ent    *client.Entitlement
	cfg    config.ClientConfig
	opts   options
	out    io.Writer
	logger *slog.Logger
}

func (c *commands) print(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *commands) setKey(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("license key must not be empty")
	}
	if err := c.ent.SetLicenseKey(ctx, key); err != nil {
		return err
	}
	return c.print(map[string]string{"license_key": license.MaskKey(key), "status": client.StatusUnknown})
}

func (c *commands) activate(ctx context.Context) error {
	resp, err := c.ent.Activate(ctx)
	if err != nil {
		return err
	}
	if err := c.print(resp.LicenseResponse); err != nil {
		return err
	}
	return refused(resp.Success, string(resp.LicenseStatus), resp.Message)
}

func (c *commands) deactivate(ctx context.Context) error {
	resp, err := c.ent.Deactivate(ctx)
	if err != nil {
		return fmt.Errorf("authority not reached, local record deactivated: %w", err)
	}
	if err := c.print(resp.LicenseResponse); err != nil {
		return err
	}
	return refused(resp.Success, string(resp.LicenseStatus), resp.Message)
}

// statusOutput is printed by the status command
type statusOutput struct {
	Decision client.Decision        `json:"decision"`
	Record   *client.PersistedState `json:"record,omitempty"`
}

func (c *commands) status(ctx context.Context) error {
	out := statusOutput{Decision: c.ent.Resolve(ctx)}
	if rec := c.ent.Status(ctx); rec != nil {
		masked := *rec
		masked.LicenseKey = license.MaskKey(rec.LicenseKey)
		out.Record = &masked
	}
	return c.print(out)
}

func (c *commands) updateCheck(ctx context.Context) error {
	update, err := c.ent.CheckForUpdate(ctx, c.cfg.ProductVersion)
	if err != nil {
		return err
	}
	if err := c.print(update.UpdateCheckResponse); err != nil {
		return err
	}
	return refused(update.Success, string(update.LicenseStatus), "")
}

func (c *commands) download(ctx context.Context) error {
	update, err := c.ent.CheckForUpdate(ctx, c.cfg.ProductVersion)
	if err != nil {
		return err
	}
	if err := refused(update.Success, string(update.LicenseStatus), ""); err != nil {
		return err
	}
	if !update.UpdateAvailable {
		return c.print(map[string]interface{}{"update_available": false, "current_version": c.cfg.ProductVersion})
	}

	dest := c.opts.out
	if dest == "" {
		dest = filepath.Join(".", fmt.Sprintf("%s-%s.zip", c.cfg.ProductSlug, update.NewVersion))
	}
	n, err := c.ent.DownloadPackage(ctx, update.PackageURL, dest)
	if err != nil {
		return err
	}
	return c.print(map[string]interface{}{"version": update.NewVersion, "path": dest, "bytes": n})
}

func (c *commands) watch(ctx context.Context) error {
	watcher := client.NewUpdateWatcher(c.ent, c.cfg.ProductVersion, c.opts.interval,
		func(_ context.Context, update *client.UpdateResponse) bool {
			_ = c.print(update.UpdateCheckResponse)
			return true
		}, c.logger)

	err := watcher.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// refused turns an authoritative refusal into an error
func refused(success bool, status, message string) error {
	if success {
		return nil
	}
	if message == "" {
		return fmt.Errorf("authority refused: %s", status)
	}
	return fmt.Errorf("authority refused: %s (%s)", message, status)
}
