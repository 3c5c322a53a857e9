package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/internal/config"
	"github.com/xkilldash9x/pilot-cli/internal/llmclient"
)

// ErrTurnLimit is returned when the model keeps proposing actions past the
// configured turn budget.
var ErrTurnLimit = errors.New("turn limit reached")

// Loop relays a goal to the model and executes the actions it proposes until
// the model answers in plain text or the turn budget runs out.
type Loop struct {
	client     llmclient.Client
	dispatcher *Dispatcher
	logger     *zap.Logger
	maxTurns   int
}

func NewLoop(client llmclient.Client, dispatcher *Dispatcher, cfg config.AgentConfig, logger *zap.Logger) *Loop {
	return &Loop{
		client:     client,
		dispatcher: dispatcher,
		logger:     logger.Named("agent"),
		maxTurns:   cfg.MaxTurns,
	}
}

// Run drives one goal to completion and returns the model's final answer.
func (l *Loop) Run(ctx context.Context, goal string) (string, error) {
	conversation := []llmclient.Content{llmclient.UserText(goal)}

	for turnNum := 1; turnNum <= l.maxTurns; turnNum++ {
		l.logger.Info("Requesting model turn", zap.Int("turn", turnNum), zap.Int("max_turns", l.maxTurns))

		turn, err := l.client.GenerateTurn(ctx, conversation)
		if err != nil {
			return "", fmt.Errorf("model turn %d failed: %w", turnNum, err)
		}
		conversation = append(conversation, turn.Content)

		if text := turn.Text(); text != "" {
			l.logger.Info("Model commentary", zap.String("text", text))
		}

		calls := turn.FunctionCalls()
		if len(calls) == 0 {
			answer := turn.Text()
			if answer == "" {
				answer = "The model ended the session without a final answer."
			}
			l.logger.Info("Goal finished", zap.Int("turns_used", turnNum))
			return answer, nil
		}

		parts, err := l.dispatcher.ExecuteTurn(ctx, calls)
		if err != nil {
			return "", fmt.Errorf("executing turn %d failed: %w", turnNum, err)
		}
		conversation = append(conversation, llmclient.FunctionResponses(parts))
	}

	return "", fmt.Errorf("%w after %d turns", ErrTurnLimit, l.maxTurns)
}
