// license-server runs the license authority: activation, checks, update
// resolution and package downloads over HTTP.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"licensekit/internal/app"
	"licensekit/internal/config"
	"licensekit/internal/infrastructure"
	"licensekit/pkg/contracts"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("License server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("license-server", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file (overrides "+config.EnvPrefix+"_CONFIG)")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if *showVersion {
		fmt.Println(contracts.GetFullVersionString())
		return nil
	}

	if *configPath != "" {
		if err := os.Setenv(config.EnvPrefix+"_CONFIG", *configPath); err != nil {
			return err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return application.Run()
}
