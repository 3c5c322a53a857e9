package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/internal/agent"
	"github.com/xkilldash9x/pilot-cli/internal/browser"
	"github.com/xkilldash9x/pilot-cli/internal/config"
	"github.com/xkilldash9x/pilot-cli/internal/llmclient"
	"github.com/xkilldash9x/pilot-cli/internal/observability"
)

var exampleGoals = []string{
	"Search for the current weather in Paris and summarize it.",
	"Open news.ycombinator.com and tell me the top story.",
	"Find the Go documentation for the context package.",
}

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [goal]",
		Short: "Starts a browser session and relays goals to the model",
		Long: `Starts a browser sized to the emulated viewport and enters an interactive
loop: each goal you type is relayed to the computer-use model, the proposed
actions are executed, and the model's final answer is printed. Pass a goal
as an argument to run a single goal and exit.`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so command line overrides win
			// over config file and environment values.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.start_url", cmd.Flags().Lookup("start-url")); err != nil {
				return err
			}
			if err := viper.BindPFlag("agent.llm.model", cmd.Flags().Lookup("model")); err != nil {
				return err
			}
			if err := viper.BindPFlag("agent.max_turns", cmd.Flags().Lookup("max-turns")); err != nil {
				return err
			}
			return viper.BindPFlag("agent.auto_approve", cmd.Flags().Lookup("auto-approve"))
		},
		RunE: runSession,
	}

	runCmd.Flags().Bool("headless", false, "run the browser without a visible window")
	runCmd.Flags().String("start-url", "", "page the open_web_browser action loads")
	runCmd.Flags().String("model", "", "computer-use model to drive")
	runCmd.Flags().Int("max-turns", 0, "maximum model turns per goal")
	runCmd.Flags().Bool("auto-approve", false, "approve sensitive actions without prompting")

	return runCmd
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func runSession(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()

	cfg, err := config.NewConfigFromViper(viper.GetViper())
	if err != nil {
		return err
	}

	// Fail fast on credentials before any browser process is launched.
	if cfg.Agent.LLM.APIKey == "" {
		return fmt.Errorf("no API key found: set %s (or %s) in the environment or a .env file",
			config.EnvAPIKey, config.EnvAPIKeyAlt)
	}

	client, err := llmclient.NewClient(cfg.Agent, logger)
	if err != nil {
		return err
	}

	manager := browser.NewManager(cfg, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown reported an error", zap.Error(err))
		}
	}()

	session, err := manager.NewSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.OpenStartPage(ctx); err != nil {
		return fmt.Errorf("failed to open start page: %w", err)
	}

	var confirmer agent.Confirmer
	if cfg.Agent.AutoApprove {
		confirmer = agent.NewAutoApprover(logger)
	} else {
		confirmer = agent.NewTerminalConfirmer(os.Stdin, os.Stdout)
	}

	dispatcher := agent.NewDispatcher(session, confirmer, cfg.Agent.ExcludedActions, logger)
	loop := agent.NewLoop(client, dispatcher, cfg.Agent, logger)

	if len(args) == 1 {
		return runGoal(ctx, loop, args[0])
	}
	return runInteractive(ctx, loop)
}

// runGoal executes a single goal and prints the model's answer.
func runGoal(ctx context.Context, loop *agent.Loop, goal string) error {
	answer, err := loop.Run(ctx, goal)
	if err != nil {
		return err
	}
	fmt.Printf("\n>>> %s\n", answer)
	return nil
}

// runInteractive reads goals from stdin until exit/quit or EOF.
func runInteractive(ctx context.Context, loop *agent.Loop) error {
	fmt.Println("Type a goal for the browser agent. Examples:")
	for _, example := range exampleGoals {
		fmt.Printf("  - %s\n", example)
	}
	fmt.Println(`Type "exit" or "quit" to leave.`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if ctx.Err() != nil {
			return nil
		}

		fmt.Print("\ngoal> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		goal := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(goal) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := runGoal(ctx, loop, goal); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, agent.ErrTurnLimit) {
				fmt.Printf("\n>>> Gave up: %v\n", err)
				continue
			}
			fmt.Fprintf(os.Stderr, "goal failed: %v\n", err)
		}
	}
}
