// Command quacwatchd runs the quacwatch daemon with the default configuration
// lookup. QUACWATCH_CONFIG overrides the configuration path.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"quacwatch/internal/config"
	"quacwatch/internal/daemonrun"
)

func main() {
	cfg, err := loadConfig(os.Getenv("QUACWATCH_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		log.Fatalf("quacwatchd: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, resolved, exists, err := config.Load(strings.TrimSpace(path))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("no configuration at %s (create one with 'quacwatch config init')", resolved)
	}
	if err := cfg.ValidateRuntime(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}
