package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quizbeam-client/internal/config"
	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/roles"
)

// NewControlCmd builds the host subcommand that drives a running session.
func NewControlCmd(configPath, serverURL *string) *cobra.Command {
	var (
		sessionID string
		token     string
		question  string
		reason    string
	)
	cmd := &cobra.Command{
		Use:       "control <start|skip|void|pause|resume|end>",
		Short:     "Send a host command to a session",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"start", "skip", "void", "pause", "resume", "end"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(cmd.Context(), *configPath, *serverURL, args[0], sessionID, token, question, reason)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session to control")
	cmd.Flags().StringVar(&token, "token", "", "host token issued for the session")
	cmd.Flags().StringVar(&question, "question", "", "question id; defaults to the current question")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with skip or void")
	return cmd
}

func runControl(ctx context.Context, configPath, serverFlag, action, sessionID, token, question, reason string) error {
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

	ctrl, err := roles.NewController(roles.ControllerConfig{
		ServerURL: resolveServer(serverFlag, cfg),
		SessionID: sessionID,
		Token:     token,
		Reconnect: reconnectPolicy(cfg),
	})
	if err != nil {
		return err
	}
	defer ctrl.Detach()

	if err := ctrl.Attach(ctx); err != nil {
		return err
	}

	needsQuestion := action == "skip" || action == "void" || action == "pause" || action == "resume"
	if needsQuestion && question == "" {
		question = currentQuestionID(ctrl)
		if question == "" {
			return fmt.Errorf("no active question; pass --question")
		}
	}

	var confirmed func() bool
	switch action {
	case "start":
		err = ctrl.StartQuiz(ctx)
		confirmed = func() bool { return ctrl.State().Phase != domain.PhaseLobby }
	case "skip":
		err = ctrl.SkipQuestion(ctx, question, reason)
		confirmed = func() bool { return currentQuestionID(ctrl) != question }
	case "void":
		err = ctrl.VoidQuestion(ctx, question, reason)
		confirmed = func() bool { return currentQuestionID(ctrl) != question }
	case "pause":
		err = ctrl.PauseTimer(ctx, question)
		confirmed = func() bool { return ctrl.Timer().State == domain.TimerPaused }
	case "resume":
		err = ctrl.ResumeTimer(ctx, question)
		confirmed = func() bool { return ctrl.Timer().State == domain.TimerRunning }
	case "end":
		err = ctrl.EndQuiz(ctx)
		confirmed = func() bool { return ctrl.State().Ended() }
	}
	if err != nil {
		return err
	}

	// Commands are fire-and-forget; the outcome arrives as an event.
	if awaitCondition(confirmed, 3*time.Second) {
		fmt.Printf("%s confirmed\n", action)
	} else {
		fmt.Printf("%s sent (no confirmation observed)\n", action)
	}
	return nil
}

func currentQuestionID(ctrl *roles.Controller) string {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if q := ctrl.State().CurrentQuestion; q != nil {
			return q.ID
		}
		time.Sleep(50 * time.Millisecond)
	}
	return ""
}

func awaitCondition(check func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}
