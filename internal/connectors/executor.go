package connectors

import (
	"context"

	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/domain"
)

// ActionExecutor исполняет внешние действия (почта, API, код). Конкретные интеграции живут вне ядра.
type ActionExecutor interface {
	Execute(ctx context.Context, kind domain.ActionKind, details map[string]any) (bool, error)
}

// LogExecutor фиксирует действие в журнале процесса и считает его выполненным
type LogExecutor struct {
	logger *zap.Logger
}

func NewLogExecutor(logger *zap.Logger) *LogExecutor {
	return &LogExecutor{logger: logger.Named("executor")}
}

func (e *LogExecutor) Execute(_ context.Context, kind domain.ActionKind, details map[string]any) (bool, error) {
	e.logger.Info("action executed", zap.String("action", string(kind)), zap.Any("details", details))
	return true, nil
}
