package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var nextQuestionCmd = &cobra.Command{
	Use:   "next-question <user_id>",
	Short: "Print the next question the scheduler would select for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, handler, err := newEngine(cmd)
		if err != nil {
			return fmt.Errorf("init engine: %w", err)
		}
		defer handler.Close(context.Background())

		q, err := e.NextQuestion(cmd.Context(), args[0], time.Now())
		if err != nil {
			return fmt.Errorf("next question: %w", err)
		}
		if q == nil {
			fmt.Println("no eligible question: unknown user, no skill ready for practice, or no unanswered question left for any candidate skill")
			return nil
		}

		fmt.Printf("question %s (skills: %v, shown %d times)\n", q.QuestionID, q.SkillIDs, q.TimesShown)
		return nil
	},
}
