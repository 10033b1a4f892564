package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/answer-machine/internal/answermachine"
	"github.com/Kocoro-lab/answer-machine/internal/models"
)

func newRunCmd(configPath *string) *cobra.Command {
	var (
		threadID   string
		username   string
		continueIt bool
		model      string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the answer machine on an existing thread in this process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if threadID == "" || username == "" {
				return errors.New("--thread and --user are required")
			}
			a, err := buildApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			settings := a.Config.LLM.Settings().WithModel(model, a.Pricing)
			res := a.Orchestrator.Execute(cmd.Context(), answermachine.ExecuteRequest{
				ThreadID:         threadID,
				Username:         username,
				ContinueExisting: continueIt,
				Settings:         settings,
			})
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("answer machine failed: %s", res.ErrorReason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "", "thread id")
	cmd.Flags().StringVar(&username, "user", "", "thread owner")
	cmd.Flags().BoolVar(&continueIt, "continue", false, "resume the thread's active run")
	cmd.Flags().StringVar(&model, "model", "", "override the configured model")
	return cmd
}

func newAskCmd(configPath *string) *cobra.Command {
	var (
		username string
		title    string
		minIter  int
		maxIter  int
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Start a thread with a question and answer it in this process",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return errors.New("--user is required")
			}
			ctx := cmd.Context()
			a, err := buildApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			question := strings.Join(args, " ")
			if minIter < 0 {
				minIter = a.Config.AnswerMachine.DefaultMinIterations
			}
			if maxIter < 0 {
				maxIter = a.Config.AnswerMachine.DefaultMaxIterations
			}
			if title == "" {
				title = question
			}
			th := &models.Thread{Username: username, Title: title, MinIterations: minIter, MaxIterations: maxIter}
			if err := a.DB.CreateThread(ctx, th); err != nil {
				return fmt.Errorf("create thread: %w", err)
			}
			if err := a.DB.AppendMessage(ctx, &models.Message{ThreadID: th.ID, Username: username, Content: question}); err != nil {
				return fmt.Errorf("append message: %w", err)
			}

			res := a.Orchestrator.Execute(ctx, answermachine.ExecuteRequest{
				ThreadID: th.ID,
				Username: username,
				Settings: a.Config.LLM.Settings(),
			})
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "thread: %s\nrun: %s\niterations: %d\n", th.ID, res.RunID, res.Iterations)
			if !res.Success {
				return fmt.Errorf("answer machine failed: %s", res.ErrorReason)
			}
			fmt.Fprintf(out, "\n%s\n", res.FinalAnswer)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "user", "", "thread owner")
	cmd.Flags().StringVar(&title, "title", "", "thread title (default: the question)")
	cmd.Flags().IntVar(&minIter, "min", -1, "minimum iterations (default from config)")
	cmd.Flags().IntVar(&maxIter, "max", -1, "maximum iterations (default from config)")
	return cmd
}
