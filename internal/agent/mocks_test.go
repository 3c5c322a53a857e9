package agent

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/llmclient"
)

// -- Model Client Mock --

// MockClient mocks the llmclient.Client interface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) GenerateTurn(ctx context.Context, contents []llmclient.Content) (*llmclient.ModelTurn, error) {
	args := m.Called(ctx, contents)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llmclient.ModelTurn), args.Error(1)
}

// -- Driver Mock --

// MockDriver mocks the Driver interface.
type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) OpenStartPage(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDriver) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockDriver) ClickAt(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockDriver) TypeTextAt(ctx context.Context, p *schemas.TypeTextParams) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockDriver) PressKeys(ctx context.Context, data schemas.KeyEventData) error {
	return m.Called(ctx, data).Error(0)
}

func (m *MockDriver) Scroll(ctx context.Context, p *schemas.ScrollParams) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockDriver) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockDriver) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// -- Confirmer Mock --

// MockConfirmer mocks the Confirmer interface.
type MockConfirmer struct {
	mock.Mock
}

func (m *MockConfirmer) Confirm(ctx context.Context, action schemas.Action) (bool, error) {
	args := m.Called(ctx, action)
	return args.Bool(0), args.Error(1)
}
