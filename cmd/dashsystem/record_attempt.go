package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var recordAttemptCmd = &cobra.Command{
	Use:   "record-attempt <user_id> <question_id> <skill_ids,comma,separated> <is_correct> <response_time_seconds>",
	Short: "Record a question attempt and apply the skill-state update",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, handler, err := newEngine(cmd)
		if err != nil {
			return fmt.Errorf("init engine: %w", err)
		}
		defer handler.Close(context.Background())

		userID, questionID := args[0], args[1]
		skillIDs := strings.Split(args[2], ",")

		isCorrect, err := strconv.ParseBool(args[3])
		if err != nil {
			return fmt.Errorf("parse is_correct: %w", err)
		}
		responseTime, err := strconv.ParseFloat(args[4], 64)
		if err != nil {
			return fmt.Errorf("parse response_time_seconds: %w", err)
		}

		affected, err := e.RecordAttempt(cmd.Context(), userID, questionID, skillIDs, isCorrect, responseTime, time.Now())
		if err != nil {
			return fmt.Errorf("record attempt: %w", err)
		}

		fmt.Printf("recorded %s: %d skills updated (%v)\n", questionID, len(affected), affected)
		return nil
	},
}
