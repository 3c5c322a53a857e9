package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/internal/config"
)

// NewClient is a factory function that creates a Client based on the
// configured provider.
func NewClient(cfg config.AgentConfig, logger *zap.Logger) (Client, error) {
	switch cfg.LLM.Provider {
	case config.ProviderGemini:
		return NewComputerUseClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.LLM.Provider, config.ProviderGemini)
	}
}
