package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/sourceroots/pkg/config"
	"github.com/platinummonkey/sourceroots/pkg/observability"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	observability.Version = version

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	log := cfg.NewLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("Failed to start")
		cancel()
		os.Exit(1)
	}

	if err := d.serve(ctx); err != nil {
		log.WithError(err).Error("Daemon stopped with errors")
		cancel()
		os.Exit(1)
	}
}
