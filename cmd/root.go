package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/camden-git/faceingest/config"
	"github.com/camden-git/faceingest/database"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// cfg is loaded once per invocation before any subcommand runs
	cfg config.Config
	// logFile is closed after the subcommand finishes
	logFile *os.File
)

var rootCmd = &cobra.Command{
	Use:           "faceingest",
	Short:         "Ingest photos, detect faces and tag them",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil {
			log.Printf("Info: No .env file found or error loading: %v", err)
		}
		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return setupLogging(cfg)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
}

// setupLogging sends the standard logger to stdout and, when LOG_FILE is set, to that file too.
func setupLogging(c config.Config) error {
	flags := log.LstdFlags
	if c.Debug {
		flags |= log.Lshortfile
	}
	log.SetFlags(flags)

	if c.LogFile == "" {
		log.SetOutput(os.Stdout)
		return nil
	}
	f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", c.LogFile, err)
	}
	logFile = f
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	return nil
}

// openStore opens the configured metadata store. The caller closes it with database.CloseGormDB.
func openStore(migrate bool) (*gorm.DB, error) {
	db, err := database.InitGormDB(cfg.DatabaseDriver, cfg.DatabaseDSN(), cfg.Debug)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := database.AutoMigrateModels(db); err != nil {
			database.CloseGormDB(db)
			return nil, err
		}
	}
	return db, nil
}

func closeStore(db *gorm.DB) {
	if err := database.CloseGormDB(db); err != nil {
		log.Printf("Error closing database: %v", err)
	}
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
