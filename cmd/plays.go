package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/ratekeep/internal/adapters/repository"
	app "github.com/okian/ratekeep/internal/app"
	"github.com/okian/ratekeep/internal/config"
	"github.com/okian/ratekeep/pkg/logger"
)

var playsDBPath string

// newPlaysCmd counts one play of a puzzle in the database, for plays
// reported outside the HTTP API.
func newPlaysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plays <puzzle-id>",
		Short: "Increment the play count of a puzzle",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlaysCmd,
	}
	cmd.Flags().StringVar(&playsDBPath, "db", "", "SQLite database path (default: db_path from config)")
	return cmd
}

func runPlaysCmd(cmd *cobra.Command, args []string) (err error) {
	path := playsDBPath
	if path == "" {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		path = cfg.DBPath
	}
	if path == "" {
		return errors.New("no database configured: pass --db or set db_path")
	}

	store, err := repository.OpenSQLite(path)
	if err != nil {
		return fmt.Errorf("failed to open database %q: %w", path, err)
	}

	ctx := cmd.Context()
	svc := app.New(app.WithStore(store), app.WithWorkerCount(1), app.WithLogger(logger.Discard()))
	if err := svc.Start(ctx); err != nil {
		return errors.Join(fmt.Errorf("failed to start service: %w", err), store.Close())
	}
	defer func() {
		err = errors.Join(err, svc.Stop(context.WithoutCancel(ctx)))
	}()

	id := args[0]
	if err := svc.IncrementPlays(ctx, id); err != nil {
		return fmt.Errorf("increment plays of %q: %w", id, err)
	}
	p, err := svc.Puzzle(ctx, id)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s plays=%d\n", id, p.Plays)
	return err
}
