package main

import (
	"context"
	"embed"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	_ "github.com/a-chmielewski/endtoend-etl-openmeteo/internal/database/mysql"
	_ "github.com/a-chmielewski/endtoend-etl-openmeteo/internal/database/postgres"
	_ "github.com/a-chmielewski/endtoend-etl-openmeteo/internal/database/sqlite"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/app"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
)

// embeddedConfig embeds the application's YAML configuration file.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// migrationsFS bundles the per-dialect schema migration scripts into the
// binary.
//
//go:embed all:resources/migrations
var migrationsFS embed.FS

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Shutting down...", sig)
		cancel()
	}()

	mode := app.ModeExtract
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	if err := app.RunApplication(ctx, mode, envFilePath, embeddedConfig, migrationsFS); err != nil {
		logger.Errorf("Run (%s) finished with errors: %v", mode, err)
		os.Exit(1)
	}
	os.Exit(0)
}
