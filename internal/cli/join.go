package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quizbeam-client/internal/archive"
	"quizbeam-client/internal/client"
	"quizbeam-client/internal/config"
	"quizbeam-client/internal/domain"
	pg "quizbeam-client/internal/infra/postgres"
	"quizbeam-client/internal/roles"
	"quizbeam-client/internal/session"
)

// NewJoinCmd builds the subcommand that plays a session from the terminal.
func NewJoinCmd(configPath, serverURL *string) *cobra.Command {
	var (
		joinCode string
		nickname string
	)
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a session as a participant and answer from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd.Context(), *configPath, *serverURL, joinCode, nickname)
		},
	}
	cmd.Flags().StringVar(&joinCode, "code", "", "join code shown on the big screen")
	cmd.Flags().StringVar(&nickname, "nickname", "", "display name")
	return cmd
}

func runJoin(ctx context.Context, configPath, serverFlag, joinCode, nickname string) error {
	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return err
	}
	if joinCode == "" {
		joinCode = cfg.Session.JoinCode
	}
	if nickname == "" {
		nickname = cfg.Session.Nickname
	}

	creds, actions, cleanup, err := buildStores(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := roles.NewParticipant(roles.ParticipantConfig{
		ServerURL:   resolveServer(serverFlag, cfg),
		JoinCode:    joinCode,
		Nickname:    nickname,
		Credentials: creds,
		QueueStore:  actions,
		Reconnect:   reconnectPolicy(cfg),
	})
	if err != nil {
		return err
	}
	defer p.Disconnect()

	var rec *archive.Recorder
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
		db := pg.OpenDB(cfg.Postgres.URL)
		defer db.Close()
		rec = archive.NewRecorder(pg.NewResultStore(db), nil)
		defer rec.Bind(p)()
	}

	defer p.OnStatus(newStatusPrinter().print)()

	ended := make(chan struct{})
	var endOnce sync.Once
	render := newQuestionPrinter()
	defer p.OnState(func(st session.State) {
		render.print(st)
		if st.Ended() {
			endOnce.Do(func() { close(ended) })
		}
	})()

	if err := p.Join(ctx); err != nil {
		return err
	}
	fmt.Println("joined; type option ids to answer, 'leave' to forget this session, ctrl-c to quit")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-stop:
			fmt.Println("\ndisconnecting...")
			return flushArchive(rec)
		case <-ctx.Done():
			return flushArchive(rec)
		case <-ended:
			printFinalStanding(p.State())
			return flushArchive(rec)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			switch line {
			case "":
			case "leave":
				leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				p.Leave(leaveCtx)
				cancel()
				fmt.Println("left the session")
				return nil
			default:
				answer(ctx, p, line)
			}
		}
	}
}

func answer(ctx context.Context, p *roles.Participant, line string) {
	st := p.State()
	if st.CurrentQuestion == nil {
		fmt.Println("no question is open right now")
		return
	}
	q := st.CurrentQuestion

	var (
		receipt domain.AnswerReceipt
		err     error
	)
	if q.FreeText {
		receipt, err = p.AnswerText(ctx, q.ID, line)
	} else {
		receipt, err = p.Answer(ctx, q.ID, strings.Fields(line)...)
	}

	switch {
	case err == nil:
		fmt.Printf("answer accepted (%dms)\n", receipt.ResponseTimeMs)
	case errors.Is(err, domain.ErrQueuedOffline):
		fmt.Println("offline; answer saved and will be sent on reconnect")
	case errors.Is(err, domain.ErrAckTimeout):
		fmt.Println("no confirmation from the server yet; answer kept for replay")
	case errors.Is(err, domain.ErrAnswerRejected):
		fmt.Printf("answer rejected: %v\n", err)
	default:
		log.Error().Err(err).Msg("submit failed")
	}
}

// statusPrinter narrates connection transitions, muting the initial
// connect since the caller announces it.
type statusPrinter struct {
	mu        sync.Mutex
	connected bool
}

func newStatusPrinter() *statusPrinter {
	return &statusPrinter{}
}

func (sp *statusPrinter) print(ch client.StatusChange) {
	sp.mu.Lock()
	first := !sp.connected
	if ch.New == domain.StatusConnected {
		sp.connected = true
	}
	sp.mu.Unlock()

	switch ch.New {
	case domain.StatusReconnecting:
		fmt.Printf("connection lost, reconnecting (attempt %d)...\n", ch.Attempt)
	case domain.StatusConnected:
		if !first {
			fmt.Println("reconnected")
		}
	case domain.StatusFailed:
		fmt.Println("gave up reconnecting; restart to try again")
	case domain.StatusError:
		if ch.Err != nil {
			fmt.Printf("session closed: %v\n", ch.Err)
		}
	}
}

// questionPrinter writes each question and reveal exactly once, however
// many state snapshots carry it.
type questionPrinter struct {
	mu           sync.Mutex
	lastQuestion string
	lastReveal   string
}

func newQuestionPrinter() *questionPrinter {
	return &questionPrinter{}
}

func (qp *questionPrinter) print(st session.State) {
	qp.mu.Lock()
	defer qp.mu.Unlock()

	switch st.Phase {
	case domain.PhaseActiveQuestion:
		q := st.CurrentQuestion
		if q == nil || q.ID == qp.lastQuestion {
			return
		}
		qp.lastQuestion = q.ID
		fmt.Printf("\nquestion %d/%d: %s\n", st.CurrentQuestionIndex+1, st.TotalQuestions, q.Text)
		for _, opt := range q.Options {
			fmt.Printf("  [%s] %s\n", opt.ID, opt.Text)
		}
		if st.HasAnswered {
			fmt.Println("  (already answered before reconnecting)")
		}

	case domain.PhaseReveal:
		if st.Reveal == nil || st.Reveal.QuestionID == qp.lastReveal {
			return
		}
		qp.lastReveal = st.Reveal.QuestionID
		fmt.Printf("correct: %s\n", strings.Join(st.Reveal.CorrectOptions, ", "))
		if st.Self.ParticipantID != "" {
			fmt.Printf("your score: %d (rank %d)\n", st.Self.Score, st.Self.Rank)
		}
	}
}

func printFinalStanding(st session.State) {
	fmt.Println("\nquiz finished")
	for _, entry := range st.Leaderboard {
		marker := " "
		if entry.ParticipantID == st.Self.ParticipantID && st.Self.ParticipantID != "" {
			marker = "*"
		}
		fmt.Printf("%s %2d. %-20s %d\n", marker, entry.Rank, entry.Nickname, entry.Score)
	}
}

func flushArchive(rec *archive.Recorder) error {
	if rec == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rec.Wait(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn().Err(err).Msg("session result may not be archived")
	}
	return nil
}
