package engine

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/infra"
)

// ListenResilient универсальный цикл для "живучей" подписки на сигналы Redis.
// Обрабатывает переподключения и логирование; выходит по отмене ctx.
func ListenResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error, // Callback для синхронизации при переподключении
	onMessage func(payload string),
) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		// Синхронизация при каждом успешном коннекте: сигналы, пропущенные во время разрыва, не теряются
		if onReconnect != nil {
			if err := onReconnect(); err != nil {
				logger.Error("sync failed on reconnect", zap.Error(err))
			}
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				onMessage(strings.TrimSpace(msg.Payload))
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ReloadHandler разбирает сигнал перезагрузки: имя документа или "all" (пустой сигнал равен "all")
func ReloadHandler(docs map[string]infra.ReloadFunc, logger *zap.Logger) func(payload string) {
	return func(payload string) {
		for name, reload := range docs {
			if payload != "" && payload != "all" && payload != name {
				continue
			}
			if err := reload(); err != nil {
				logger.Error("document reload failed", zap.String("document", name), zap.Error(err))
				continue
			}
			logger.Info("document reloaded", zap.String("document", name))
		}
	}
}
