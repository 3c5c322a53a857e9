package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/browser"
	"github.com/xkilldash9x/pilot-cli/internal/llmclient"
)

var _ Driver = (*browser.Session)(nil)

// Dispatcher executes the function calls of a single model turn against the
// browser and builds the per-action responses the model sees next turn.
type Dispatcher struct {
	driver    Driver
	confirmer Confirmer
	logger    *zap.Logger
	excluded  map[string]bool
}

func NewDispatcher(driver Driver, confirmer Confirmer, excludedActions []string, logger *zap.Logger) *Dispatcher {
	excluded := make(map[string]bool, len(excludedActions))
	for _, name := range excludedActions {
		excluded[name] = true
	}
	return &Dispatcher{
		driver:    driver,
		confirmer: confirmer,
		logger:    logger.Named("dispatcher"),
		excluded:  excluded,
	}
}

// ExecuteTurn runs the proposed calls in order. A declined confirmation
// skips the remaining calls of the turn; already executed calls are not
// rolled back. Per-action failures are captured into the response rather
// than aborting the turn, so the model can react to them.
func (d *Dispatcher) ExecuteTurn(ctx context.Context, calls []*llmclient.FunctionCall) ([]llmclient.Part, error) {
	parts := make([]llmclient.Part, 0, len(calls))
	declined := false

	for _, call := range calls {
		if declined {
			parts = append(parts, llmclient.FunctionResponsePart(call.Name, map[string]any{
				"error": "Action skipped: a previous action in this turn was declined by the user.",
			}, nil))
			continue
		}

		response := make(map[string]any)
		execErr := d.runCall(ctx, call, response, &declined)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if execErr != nil {
			d.logger.Warn("Action failed",
				zap.String("action", call.Name),
				zap.Error(execErr),
			)
			response["error"] = execErr.Error()
		}

		parts = append(parts, d.buildResponsePart(ctx, call.Name, response))
	}

	return parts, nil
}

// runCall parses, confirms, and executes one function call. The declined
// flag is raised when the user refuses a flagged action.
func (d *Dispatcher) runCall(ctx context.Context, call *llmclient.FunctionCall, response map[string]any, declined *bool) error {
	action, err := schemas.ParseAction(call.Name, call.Args)
	if err != nil {
		return err
	}

	if action.Kind == schemas.ActionUnknown || d.excluded[call.Name] {
		d.logger.Warn("Skipping unsupported function call", zap.String("action", call.Name))
		return fmt.Errorf("unsupported function: %s", call.Name)
	}

	if action.ConfirmationRequired() {
		approved, err := d.confirmer.Confirm(ctx, action)
		if err != nil {
			return err
		}
		if !approved {
			d.logger.Info("User declined action", zap.String("action", call.Name))
			*declined = true
			response["safety_acknowledgement"] = "false"
			return fmt.Errorf("user declined the proposed action")
		}
		response["safety_acknowledgement"] = "true"
	}

	d.logger.Info("Executing action", zap.String("action", call.Name))
	return d.execute(ctx, &action)
}

func (d *Dispatcher) execute(ctx context.Context, action *schemas.Action) error {
	switch action.Kind {
	case schemas.ActionOpenWebBrowser:
		return d.driver.OpenStartPage(ctx)
	case schemas.ActionNavigate:
		return d.driver.Navigate(ctx, action.Navigate.URL)
	case schemas.ActionClickAt:
		return d.driver.ClickAt(ctx, action.Click.X, action.Click.Y)
	case schemas.ActionTypeTextAt:
		return d.driver.TypeTextAt(ctx, action.TypeText)
	case schemas.ActionKeyCombination:
		data, err := schemas.ParseKeyCombination(action.Keys.Keys)
		if err != nil {
			return err
		}
		return d.driver.PressKeys(ctx, data)
	case schemas.ActionScrollDocument:
		return d.driver.Scroll(ctx, action.Scroll)
	}
	return fmt.Errorf("unsupported function: %s", action.Name)
}

// buildResponsePart attaches the current URL and a fresh screenshot to the
// per-action response so the model observes the resulting page state.
func (d *Dispatcher) buildResponsePart(ctx context.Context, name string, response map[string]any) llmclient.Part {
	if url, err := d.driver.CurrentURL(ctx); err != nil {
		d.logger.Debug("Failed to read current URL for response", zap.Error(err))
	} else {
		response["url"] = url
	}

	screenshot, err := d.driver.Screenshot(ctx)
	if err != nil {
		d.logger.Warn("Failed to capture screenshot for response", zap.Error(err))
	}

	return llmclient.FunctionResponsePart(name, response, screenshot)
}
