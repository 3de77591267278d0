package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "governor"
)

// Ключи блокировок
const (
	RedisKeyLockHeartbeat = RedisNamespace + ":lock:heartbeat"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanApprovalDecisions канал для трансляции решений принципала
	RedisChanApprovalDecisions = RedisNamespace + ":approvals"
	// RedisChanDocumentsReload сигнал перечитать правила автономии и каталог моделей
	RedisChanDocumentsReload = RedisNamespace + ":documents:reload"
	RedisChanAlerts          = RedisNamespace + ":alerts"
)

// GetLockKey Генератор ключей для блокировок (если нужны динамические)
func GetLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:%s", RedisNamespace, resource)
}
