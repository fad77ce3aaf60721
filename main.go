package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/harborchat/harbor/internal/app"
	"github.com/harborchat/harbor/internal/config"
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

var (
	clientDir = flag.String("dir", ".", "Client directory (config and local data)")
	cfgFile   = flag.String("config", "config.json", "Config file, relative to -dir unless absolute")
	version   = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println("harbor", appVersion)
		return
	}

	cfgPath := *cfgFile
	if !filepath.IsAbs(cfgPath) {
		cfgPath = filepath.Join(*clientDir, cfgPath)
	}

	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if created {
		fmt.Printf("Created %s — fill in identity and server, then start again.\n", cfgPath)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Options{
		ClientDir: *clientDir,
		CfgPath:   cfgPath,
		Cfg:       cfg,
	}); err != nil {
		log.Fatalf("harbor: %v", err)
	}
}
