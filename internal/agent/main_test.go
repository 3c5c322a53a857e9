package agent

import (
	"os"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/pilot-cli/internal/config"
	"github.com/xkilldash9x/pilot-cli/internal/observability"
)

// TestMain instantiates the global logger before running the package tests.
func TestMain(m *testing.M) {
	appConfig := config.NewDefaultConfig()
	logConfig := appConfig.Logger
	logConfig.Level = "debug"
	logConfig.Format = "console"

	observability.Initialize(logConfig, zapcore.Lock(os.Stdout))

	exitCode := m.Run()

	observability.Sync()
	observability.ResetForTest()

	os.Exit(exitCode)
}
