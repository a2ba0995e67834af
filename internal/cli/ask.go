package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/user/chorus/internal/orchestrator"
)

func newAskCmd(v *viper.Viper) *cobra.Command {
	var (
		userID      string
		constructID string
		threadID    string
		mode        string
		noMetrics   bool
	)

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Run one message through the engine and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.TrimSpace(strings.Join(args, " "))
			if message == "" {
				return fmt.Errorf("message is required")
			}
			req := orchestrator.Request{
				UserID:      userID,
				ConstructID: constructID,
				ThreadID:    threadID,
				Message:     message,
			}
			if strings.TrimSpace(mode) != "" {
				m, ok := orchestrator.ParseMode(mode)
				if !ok {
					return fmt.Errorf("unknown mode %q: want branded or linear", mode)
				}
				req.Mode = m
			}

			app, err := wireApp(cmd, v)
			if err != nil {
				return err
			}
			defer app.Close()

			resp, err := app.chat.Chat(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintln(out, resp.Text); err != nil {
				return err
			}
			if noMetrics {
				return nil
			}
			fmt.Fprintln(out)
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(resp.Metrics)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "cli", "user id the exchange is recorded under")
	cmd.Flags().StringVar(&constructID, "construct", "zen", "construct to answer as")
	cmd.Flags().StringVar(&threadID, "thread", "", "conversation thread id")
	cmd.Flags().StringVar(&mode, "mode", "", "prompt mode: branded or linear (default from construct)")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "print only the reply text")
	return cmd
}
