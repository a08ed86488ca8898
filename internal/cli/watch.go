package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quizbeam-client/internal/config"
	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/roles"
	"quizbeam-client/internal/session"
)

// NewWatchCmd builds the subcommand that projects a session read-only.
func NewWatchCmd(configPath, serverURL *string) *cobra.Command {
	var (
		sessionID string
		token     string
		joinBase  string
		qrPath    string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Observe a session big-screen style: lobby, questions, leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), *configPath, *serverURL, sessionID, token, joinBase, qrPath)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session to observe")
	cmd.Flags().StringVar(&token, "token", "", "display token issued for the session")
	cmd.Flags().StringVar(&joinBase, "join-base", "", "public join page encoded into the QR code")
	cmd.Flags().StringVar(&qrPath, "qr", "", "write the join QR code PNG to this path")
	return cmd
}

func runWatch(ctx context.Context, configPath, serverFlag, sessionID, token, joinBase, qrPath string) error {
	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return err
	}
	if sessionID == "" {
		sessionID = cfg.Session.SessionID
	}
	if token == "" {
		token = cfg.Session.Token
	}

	b, err := roles.NewBigScreen(roles.BigScreenConfig{
		ServerURL:   resolveServer(serverFlag, cfg),
		SessionID:   sessionID,
		Token:       token,
		JoinBaseURL: joinBase,
		Reconnect:   reconnectPolicy(cfg),
	})
	if err != nil {
		return err
	}
	defer b.Detach()

	defer b.OnStatus(newStatusPrinter().print)()

	board := &boardPrinter{screen: b, qrPath: qrPath}
	ended := make(chan struct{})
	var endOnce sync.Once
	defer b.OnState(func(st session.State) {
		board.print(st)
		if st.Ended() {
			endOnce.Do(func() { close(ended) })
		}
	})()
	defer b.OnTimer(board.tick)()

	if err := b.Attach(ctx); err != nil {
		return err
	}
	fmt.Println("watching; ctrl-c to stop")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
	case <-ctx.Done():
	case <-ended:
		printBoard(b.Leaderboard(), "final standings")
	}
	return nil
}

// boardPrinter renders state transitions for a projector surface. Each
// lobby, question, and reveal is written once.
type boardPrinter struct {
	screen *roles.BigScreen
	qrPath string

	mu           sync.Mutex
	lobbyShown   bool
	lastQuestion string
	lastReveal   string
	lastCount    int
	lastRemain   int
	paused       bool
}

func (bp *boardPrinter) print(st session.State) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	switch st.Phase {
	case domain.PhaseLobby:
		if !bp.lobbyShown && st.JoinCode != "" {
			bp.lobbyShown = true
			fmt.Printf("\njoin code: %s\n", st.JoinCode)
			bp.renderJoinHint()
		}
		if st.ParticipantCount != bp.lastCount {
			bp.lastCount = st.ParticipantCount
			fmt.Printf("%d player(s) in the lobby\n", st.ParticipantCount)
		}

	case domain.PhaseActiveQuestion:
		q := st.CurrentQuestion
		if q == nil || q.ID == bp.lastQuestion {
			return
		}
		bp.lastQuestion = q.ID
		bp.lastRemain = 0
		fmt.Printf("\nquestion %d/%d: %s\n", st.CurrentQuestionIndex+1, st.TotalQuestions, q.Text)
		for _, opt := range q.Options {
			fmt.Printf("  [%s] %s\n", opt.ID, opt.Text)
		}

	case domain.PhaseReveal:
		if st.Reveal == nil || st.Reveal.QuestionID == bp.lastReveal {
			return
		}
		bp.lastReveal = st.Reveal.QuestionID
		fmt.Printf("time's up; correct: %v\n", st.Reveal.CorrectOptions)
		for optionID, count := range st.Reveal.Statistics {
			fmt.Printf("  %s: %d vote(s)\n", optionID, count)
		}
		printBoard(st.Leaderboard, "standings")
	}
}

func (bp *boardPrinter) renderJoinHint() {
	url, err := bp.screen.JoinURL()
	if err != nil {
		return
	}
	fmt.Printf("join at: %s\n", url)
	if bp.qrPath == "" {
		return
	}
	if err := bp.screen.WriteJoinQR(bp.qrPath, 512); err != nil {
		log.Warn().Err(err).Msg("could not write join QR code")
		return
	}
	log.Info().Str("path", bp.qrPath).Msg("join QR code written")
}

func (bp *boardPrinter) tick(snap domain.TimerSnapshot) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if snap.State == domain.TimerPaused {
		if !bp.paused {
			bp.paused = true
			fmt.Println("timer paused")
		}
		return
	}
	if bp.paused && snap.State == domain.TimerRunning {
		bp.paused = false
		fmt.Println("timer resumed")
	}
	if snap.State != domain.TimerRunning || snap.RemainingSeconds == bp.lastRemain {
		return
	}
	bp.lastRemain = snap.RemainingSeconds
	if snap.RemainingSeconds <= 5 || snap.RemainingSeconds%10 == 0 {
		fmt.Printf("  %ds left\n", snap.RemainingSeconds)
	}
}

func printBoard(entries []domain.LeaderboardEntry, title string) {
	if len(entries) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", title)
	for i, entry := range entries {
		if i >= 5 {
			break
		}
		fmt.Printf("  %2d. %-20s %d\n", entry.Rank, entry.Nickname, entry.Score)
	}
}
