package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"quizbeam-client/internal/config"
	"quizbeam-client/internal/domain"
	pg "quizbeam-client/internal/infra/postgres"
)

// NewHistoryCmd builds the subcommand that inspects archived results.
func NewHistoryCmd(configPath *string) *cobra.Command {
	var (
		limit     int
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived session results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), *configPath, sessionID, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	cmd.Flags().StringVar(&sessionID, "session", "", "show one session in full")
	return cmd
}

func runHistory(ctx context.Context, configPath, sessionID string, limit int) error {
	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	reader := pg.NewHistoryReader(pool)

	if sessionID != "" {
		result, err := reader.GetResult(ctx, sessionID)
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	}

	results, err := reader.ListResults(ctx, limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no archived sessions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENDED\tSESSION\tCODE\tPLAYER\tSCORE\tRANK")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			r.EndedAt.Local().Format("2006-01-02 15:04"),
			r.SessionID, r.JoinCode, r.Self.Nickname, r.Self.Score, r.Self.Rank)
	}
	return w.Flush()
}

func printResult(r domain.SessionResult) {
	fmt.Printf("session %s (code %s) ended %s\n", r.SessionID, r.JoinCode, r.EndedAt.Local().Format(time.RFC822))
	for _, entry := range r.Leaderboard {
		marker := " "
		if entry.ParticipantID == r.Self.ParticipantID && r.Self.ParticipantID != "" {
			marker = "*"
		}
		fmt.Printf("%s %2d. %-20s %d\n", marker, entry.Rank, entry.Nickname, entry.Score)
	}
}
