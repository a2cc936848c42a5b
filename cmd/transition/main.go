// Command transition migrates one user's items between the primary
// Postgres store and the secondary SQLite store, resumably. It is an
// operator tool: run it once per user, re-run it after a failure.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/notesync/syncing-api/internal/config"
	"github.com/notesync/syncing-api/internal/db"
	"github.com/notesync/syncing-api/internal/events"
	"github.com/notesync/syncing-api/internal/repo"
	"github.com/notesync/syncing-api/internal/timer"
	"github.com/notesync/syncing-api/internal/transition"
)

var (
	userFlag    string
	reverseFlag bool
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "syncing-transition").Logger()

	root := &cobra.Command{
		Use:           "transition",
		Short:         "Migrate a user's items between the primary and secondary stores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Copy, verify, and clean up one user's items",
		RunE:  runTransition,
	}
	runCmd.Flags().StringVar(&userFlag, "user", "", "uuid of the user to migrate (required)")
	runCmd.Flags().BoolVar(&reverseFlag, "reverse", false, "migrate from the secondary store back to the primary")
	runCmd.MarkFlagRequired("user")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show a user's transition status",
		RunE:  showStatus,
	}
	statusCmd.Flags().StringVar(&userFlag, "user", "", "uuid of the user to inspect (required)")
	statusCmd.MarkFlagRequired("user")

	root.AddCommand(runCmd, statusCmd)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("transition failed")
		os.Exit(1)
	}
}

type stores struct {
	cfg      *config.Config
	primary  *repo.PGItemRepository
	second   *repo.SQLiteItemRepository
	statuses *transition.PGStatusRepository
	close    func()
}

func openStores(ctx context.Context) (*stores, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DevMode() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("SYNC_DATABASE_URL is required")
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	sqlite, err := db.OpenSQLite(ctx, cfg.SecondaryDatabasePath)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open secondary store: %w", err)
	}

	return &stores{
		cfg:      cfg,
		primary:  repo.NewPGItemRepository(pool),
		second:   repo.NewSQLiteItemRepository(sqlite),
		statuses: transition.NewPGStatusRepository(pool),
		close: func() {
			sqlite.Close()
			pool.Close()
		},
	}, nil
}

func runTransition(cmd *cobra.Command, args []string) error {
	userUUID, err := uuid.Parse(userFlag)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}

	ctx := cmd.Context()
	st, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	runner := &transition.Runner{
		Source:         st.primary,
		Target:         st.second,
		Statuses:       st.statuses,
		Publisher:      events.LogPublisher{},
		Clock:          timer.NewMonotonic(),
		PageSize:       st.cfg.PageSize,
		SettleDelay:    st.cfg.SettleDelay,
		TransitionType: st.cfg.TransitionType,
	}
	if reverseFlag {
		runner.Source, runner.Target = st.second, st.primary
		runner.TransitionType = "secondary-to-primary"
	}

	log.Info().
		Str("user_uuid", userUUID.String()).
		Str("transition_type", runner.TransitionType).
		Msg("starting transition")

	if err := runner.Run(ctx, userUUID); err != nil {
		return err
	}
	log.Info().Str("user_uuid", userUUID.String()).Msg("transition verified")
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	userUUID, err := uuid.Parse(userFlag)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}

	ctx := cmd.Context()
	st, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	rec, err := st.statuses.Find(ctx, userUUID)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Printf("user %s: %s\n", userUUID, transition.StatusNotStarted)
		return nil
	}

	fmt.Printf("user %s: %s (copy page %d, verify page %d)\n",
		rec.UserUUID, rec.Status, rec.PagingProgress, rec.IntegrityProgress)
	if rec.LastError != nil {
		fmt.Printf("last error: %s\n", *rec.LastError)
	}
	return nil
}
