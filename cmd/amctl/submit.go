package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/answer-machine/internal/temporal"
	"github.com/Kocoro-lab/answer-machine/internal/workflows"
)

func newSubmitCmd(configPath *string) *cobra.Command {
	var (
		threadID   string
		username   string
		continueIt bool
		wait       bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Start the answer machine workflow for a thread on the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if threadID == "" || username == "" {
				return errors.New("--thread and --user are required")
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := temporal.Dial(ctx, cfg.Temporal, cliLogger(cfg))
			if err != nil {
				return fmt.Errorf("connect temporal: %w", err)
			}
			defer c.Close()

			run, err := workflows.Start(ctx, c, cfg.Temporal.TaskQueue, workflows.AnswerMachineInput{
				ThreadID:         threadID,
				Username:         username,
				ContinueExisting: continueIt,
				Timeout:          cfg.AnswerMachine.WorkflowTimeout,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "workflow: %s\nrun: %s\n", run.GetID(), run.GetRunID())
			if !wait {
				return nil
			}

			var res workflows.AnswerMachineResult
			if err := run.Get(ctx, &res); err != nil {
				return fmt.Errorf("workflow failed: %w", err)
			}
			if err := writeJSON(out, res); err != nil {
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
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the workflow result")
	return cmd
}
