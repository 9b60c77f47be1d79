package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"wa-gateway/internal/app"
	"wa-gateway/internal/infra/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath, listen string

	flagSet := pflag.NewFlagSet("wa-gateway", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a JSON config file")
	flagSet.StringVarP(&listen, "listen", "l", "", "HTTP listen address, overrides config and PORT")
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: wa-gateway [flags]\n\n")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if listen != "" {
		cfg.HTTP.Listen = listen
	}

	gateway, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	return gateway.Run()
}
