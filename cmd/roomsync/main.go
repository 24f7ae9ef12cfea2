// Roomsync keeps a local directory of bookable meeting rooms in sync with the
// Microsoft Graph places API and serves room search and user favourites
// from it.
//
// Usage:
//
//	roomsync setup                           # interactive first-run wizard
//	roomsync daemon                          # scheduled sync under a supervisor
//	roomsync sync-once                       # one sync run, then exit
//	roomsync search <terms...> [--limit n]   # search the local room index
//	roomsync reindex                         # rebuild the search index from storage
//	roomsync favorites list --user <id>      # show a user's favourite rooms
//	roomsync status                          # show config, storage and index state
//	roomsync version
//
// Global flags (--config, --verbose, --log-format) go before the command.
// The config path can also come from $ROOMSYNC_CONFIG, and a .env file in the
// working directory is loaded automatically.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/njoerd114/roomsync/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		stop()
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	defaultCfg, _ := config.DefaultPath()

	return &cli.Command{
		Name:    "roomsync",
		Usage:   "sync the Graph room directory into local storage and search it",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config.yaml",
				Value:   defaultCfg,
				Sources: cli.EnvVars(config.EnvPath),
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log output format: text or json",
				Value: "text",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "setup",
				Usage:  "interactive first-run wizard",
				Action: runSetup,
			},
			{
				Name:   "daemon",
				Usage:  "run scheduled syncs until interrupted",
				Action: runDaemon,
			},
			{
				Name:   "sync-once",
				Usage:  "run a single sync and print its summary",
				Action: runSyncOnce,
			},
			{
				Name:      "search",
				Usage:     "search rooms by name or building",
				ArgsUsage: "<terms...>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "maximum results (default from config)"},
					&cli.BoolFlag{Name: "json", Usage: "print results as JSON"},
				},
				Action: runSearch,
			},
			{
				Name:   "reindex",
				Usage:  "rebuild the search index from stored rooms",
				Action: runReindex,
			},
			{
				Name:  "favorites",
				Usage: "manage user favourite rooms",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list a user's favourites",
						Flags: []cli.Flag{
							userFlag(),
							&cli.BoolFlag{Name: "json", Usage: "print favourites as JSON"},
						},
						Action: runFavoritesList,
					},
					{
						Name:  "add",
						Usage: "add a stored room to a user's favourites",
						Flags: []cli.Flag{
							userFlag(),
							&cli.StringFlag{Name: "building", Usage: "building (room list) email", Required: true},
							&cli.StringFlag{Name: "room", Usage: "room email", Required: true},
						},
						Action: runFavoritesAdd,
					},
					{
						Name:   "clear",
						Usage:  "remove all of a user's favourites",
						Flags:  []cli.Flag{userFlag()},
						Action: runFavoritesClear,
					},
				},
			},
			{
				Name:   "status",
				Usage:  "show config, storage and index state",
				Action: runStatus,
			},
			{
				Name:  "version",
				Usage: "print version",
				Action: func(_ context.Context, _ *cli.Command) error {
					fmt.Println("roomsync", version)
					return nil
				},
			},
		},
	}
}

func userFlag() cli.Flag {
	return &cli.StringFlag{Name: "user", Usage: "user object ID", Required: true}
}

// newLogger builds the process logger from the global flags and installs it
// as the slog default.
func newLogger(cmd *cli.Command) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cmd.Bool("verbose") {
		opts.Level = slog.LevelDebug
	}

	var h slog.Handler
	switch format := cmd.String("log-format"); format {
	case "", "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}
