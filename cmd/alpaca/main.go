package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rxtech-lab/argo-alpaca/internal/logger"
	"github.com/rxtech-lab/argo-alpaca/pkg/alpaca"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// session bundles what every command needs.
type session struct {
	client *alpaca.Client
	logger *logger.Logger
}

func (s *session) close() {
	_ = s.client.Close()
	_ = s.logger.Sync()
}

// openSession loads the environment file, the configuration and the logger
// selected by the global flags and builds a client from them.
func openSession(cmd *cli.Command) (*session, error) {
	if envFile := cmd.String("env-file"); envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		}
	}

	var (
		config alpaca.Config
		err    error
	)

	if path := cmd.String("config"); path != "" {
		config, err = alpaca.LoadConfig(path, os.LookupEnv)
		if err != nil {
			return nil, err
		}
	} else {
		config = alpaca.ConfigFromEnv(os.LookupEnv)
	}

	if cmd.Bool("live") {
		config.Environment = alpaca.EnvironmentLive
	}

	appLogger, err := logger.NewLogger(cmd.String("log-level"))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	client, err := alpaca.NewClient(config, alpaca.WithLogger(appLogger.Logger))
	if err != nil {
		return nil, err
	}

	appLogger.Debug("Session opened", zap.String("environment", string(config.Environment)))

	return &session{client: client, logger: appLogger}, nil
}

// withSession wraps an action that needs a client.
func withSession(action func(ctx context.Context, cmd *cli.Command, s *session) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		return action(ctx, cmd, s)
	}
}

func printJSON(cmd *cli.Command, v any) error {
	encoder := json.NewEncoder(cmd.Root().Writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}

// newApp builds the command tree.
func newApp() *cli.Command {
	return &cli.Command{
		Name:  "alpaca",
		Usage: "Query and trade an Alpaca brokerage account",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file. Credentials fall back to APCA_API_KEY_ID and APCA_API_SECRET_KEY",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to a .env file loaded before reading the environment",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn or error",
				Value: "warn",
			},
			&cli.BoolFlag{
				Name:  "live",
				Usage: "Use the live trading environment instead of paper trading",
			},
		},
		Commands: []*cli.Command{
			clockCommand(),
			accountCommand(),
			positionsCommand(),
			ordersCommand(),
			barsCommand(),
			streamCommand(),
			schemaCommand(),
			environmentsCommand(),
		},
	}
}

func main() {
	cmd := newApp()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := cmd.Run(ctx, os.Args)

	stop()

	if err != nil {
		log.Fatal(err)
	}
}
