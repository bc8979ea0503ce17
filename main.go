package main

import (
	"flag"
	"os"

	"pvimport/config"
	"pvimport/internal/logs"
	"pvimport/server"
)

func main() {
	settings := flag.String("settings", "", "path to the settings file (optional; HLM_* env always applies)")
	flag.Parse()

	cfg, err := config.Load(*settings)
	if err != nil {
		logs.Logger.Errorf("settings: %v", err)
		os.Exit(1)
	}

	app := &server.App{}
	if err := app.Initialize(cfg); err != nil {
		logs.Logger.Errorf("startup: %v", err)
		os.Exit(1)
	}
	if err := app.Run(); err != nil {
		logs.Logger.Errorf("import loop: %v", err)
		os.Exit(1)
	}
}
