// Package cli wires the session client into terminal commands: join a
// session as a player, project it on a big screen, drive it as a host,
// and inspect archived results.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quizbeam-client/internal/client"
	"quizbeam-client/internal/config"
	"quizbeam-client/internal/infra/file"
	"quizbeam-client/internal/infra/memory"
	infraredis "quizbeam-client/internal/infra/redis"
	"quizbeam-client/internal/queue"
)

var (
	serverURL  string
	configPath string
	verbose    bool
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	envServer := os.Getenv("QUIZBEAM_SERVER_URL")
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	cmd := &cobra.Command{
		Use:   "quizbeam",
		Short: "Resilient client for live quiz sessions",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", envServer, "quiz server websocket URL")
	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML config")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.AddCommand(NewJoinCmd(&configPath, &serverURL))
	cmd.AddCommand(NewWatchCmd(&configPath, &serverURL))
	cmd.AddCommand(NewControlCmd(&configPath, &serverURL))
	cmd.AddCommand(NewHistoryCmd(&configPath))
	cmd.AddCommand(NewMigrateCmd(&configPath))
	return cmd
}

func resolveServer(flagValue string, cfg config.Config) string {
	if flagValue != "" {
		return flagValue
	}
	if cfg.Server.URL != "" {
		return cfg.Server.URL
	}
	return "ws://localhost:8080/ws"
}

// buildStores assembles the credential and queue stores named by the
// config. The returned func releases whatever the backend holds open.
func buildStores(cfg config.Config) (client.CredentialStore, queue.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return memory.NewCredentialStore(), memory.NewActionStore(), func() {}, nil

	case "file":
		dir := cfg.Storage.Dir
		if dir == "" {
			base, err := os.UserConfigDir()
			if err != nil {
				return nil, nil, nil, fmt.Errorf("storage.dir not set and no user config dir: %w", err)
			}
			dir = filepath.Join(base, "quizbeam")
		}
		creds := file.NewCredentialStore(filepath.Join(dir, "credential.json"))
		return creds, file.NewActionStore(dir), func() {}, nil

	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, nil, nil, fmt.Errorf("storage backend is redis but redis.addr is not configured")
		}
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ttl := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)
		device := cfg.Storage.Device
		if device == "" {
			device, _ = os.Hostname()
		}
		if device == "" {
			device = "quizbeam"
		}
		creds := infraredis.NewCredentialStore(rc, device, ttl)
		return creds, infraredis.NewActionStore(rc, ttl), func() { _ = rc.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func reconnectPolicy(cfg config.Config) client.ReconnectPolicy {
	policy := client.DefaultReconnectPolicy()
	policy.InitialDelay = config.TTLDuration(cfg.Reconnect.InitialDelay, policy.InitialDelay)
	policy.MaxDelay = config.TTLDuration(cfg.Reconnect.MaxDelay, policy.MaxDelay)
	if cfg.Reconnect.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Reconnect.MaxAttempts
	}
	return policy
}
