package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats <user_id>",
	Short: "Show learning statistics for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, handler, err := newEngine(cmd)
		if err != nil {
			return fmt.Errorf("init engine: %w", err)
		}
		defer handler.Close(context.Background())

		s, err := e.Stats(cmd.Context(), args[0], time.Now())
		if err != nil {
			return fmt.Errorf("load stats: %w", err)
		}

		fmt.Println("DashSystem Stats")
		fmt.Println(strings.Repeat("─", 36))
		fmt.Println()
		fmt.Printf("Questions answered: %d (%d correct, %.1f%% accuracy)\n",
			s.TotalQuestions, s.Correct, s.Accuracy*100)
		fmt.Printf("Skills mastered: %d\n", s.SkillsMastered)
		fmt.Printf("Skills needing practice: %d\n", s.SkillsNeedingPractice)
		fmt.Println()

		type row struct {
			id       string
			strength float64
			grade    int
		}
		var weakest []row
		for id, st := range s.PerSkill {
			if st.NeedsPractice {
				weakest = append(weakest, row{id, st.Strength, st.Grade})
			}
		}
		sort.Slice(weakest, func(i, j int) bool { return weakest[i].strength < weakest[j].strength })

		if len(weakest) > 0 {
			fmt.Println("Weakest skills:")
			top := weakest
			if len(top) > 10 {
				top = top[:10]
			}
			for _, r := range top {
				fmt.Printf("  %-30s grade %-3d strength %.3f\n", r.id, r.grade, r.strength)
			}
		}
		return nil
	},
}
