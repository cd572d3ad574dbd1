package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/JakeFAU/spider-emissaries/internal/config"
	"github.com/JakeFAU/spider-emissaries/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	if err := app.Run(ctx); err != nil {
		return fmt.Errorf("run app: %w", err)
	}
	return nil
}
