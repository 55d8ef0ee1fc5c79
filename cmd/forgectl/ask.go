package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"forge-coach/internal/bootstrap"
	"forge-coach/internal/domain"
	"forge-coach/internal/usecase"
)

var askOpts struct {
	mode       string
	level      int
	streakDays int
	rangeName  string
	history    []string
	asJSON     bool
}

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Run one coaching exchange and print the reply",
	Long: `Sends one user message through the full forge pipeline (prompt assembly,
completion, sanitizing, at most one quality retry, hard guard) and prints the
final text.

Example:
  forgectl ask --local --mode deep "plan my week"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askOpts.mode, "mode", "m", string(domain.ModeStrike), "Response mode: strike, guidance or deep")
	askCmd.Flags().IntVar(&askOpts.level, "level", 1, "User level")
	askCmd.Flags().IntVar(&askOpts.streakDays, "streak", 0, "Current streak in days")
	askCmd.Flags().StringVar(&askOpts.rangeName, "range", domain.RangeToday, "Score range: today, 7d or 30d")
	askCmd.Flags().StringSliceVar(&askOpts.history, "history", nil, "Earlier turns as role:content, oldest first")
	askCmd.Flags().BoolVar(&askOpts.asJSON, "json", false, "Print the full response as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = rt.logger.Sync() }()

	svc, err := bootstrap.ForgeService(rt.v, rt.deps())
	if err != nil {
		return err
	}

	messages, err := parseHistory(askOpts.history)
	if err != nil {
		return err
	}
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: strings.Join(args, " ")})

	out, err := svc.Forge(cmd.Context(), usecase.ForgeInput{
		Messages: messages,
		Mode:     askOpts.mode,
		Context: &domain.UsageContext{
			StreakDays: askOpts.streakDays,
			Level:      askOpts.level,
			Range:      askOpts.rangeName,
		},
		CorrelationID: uuid.NewString(),
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if !askOpts.asJSON {
		_, err = fmt.Fprintln(w, out.Text)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"text":              out.Text,
		"mode":              out.Mode,
		"max_output_tokens": out.MaxOutputTokens,
		"model":             out.Model,
		"backend":           out.Backend,
	})
}

// parseHistory turns "role:content" pairs into chat messages.
func parseHistory(turns []string) ([]domain.ChatMessage, error) {
	messages := make([]domain.ChatMessage, 0, len(turns)+1)
	for _, turn := range turns {
		role, content, ok := strings.Cut(turn, ":")
		if !ok || !domain.ValidRole(strings.TrimSpace(role)) {
			return nil, fmt.Errorf("invalid --history entry %q: want role:content", turn)
		}
		messages = append(messages, domain.ChatMessage{Role: strings.TrimSpace(role), Content: content})
	}
	return messages, nil
}
