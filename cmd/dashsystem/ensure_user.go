package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var ensureUserCmd = &cobra.Command{
	Use:   "ensure-user <user_id> <grade_level> [age]",
	Short: "Get or create a user, applying cold start on first creation",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, handler, err := newEngine(cmd)
		if err != nil {
			return fmt.Errorf("init engine: %w", err)
		}
		defer handler.Close(context.Background())

		userID, gradeLevel := args[0], args[1]
		var age *int
		if len(args) == 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("parse age: %w", err)
			}
			age = &n
		}

		profile, err := e.EnsureUser(cmd.Context(), userID, age, gradeLevel)
		if err != nil {
			return fmt.Errorf("ensure user: %w", err)
		}

		fmt.Printf("user %s (grade %s): %d skills tracked, %d questions answered\n",
			profile.UserID, profile.GradeLevel, len(profile.SkillStates), len(profile.QuestionHistory))
		return nil
	},
}
