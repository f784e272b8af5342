package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "mindx"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanAlertEvents: события тревог (TRIGGERED/RESOLVED) для alertwatch и дашбордов.
	RedisChanAlertEvents = RedisNamespace + ":alerts:events"
)

// Ключи памяти агентов: sorted set на агента, score — время записи в наносекундах.
const (
	RedisKeyMemoryPrefix = RedisNamespace + ":memory:"
)

// MemoryKey: ключ sorted set с памятью агента.
func MemoryKey(agentID string) string {
	return fmt.Sprintf("%s%s", RedisKeyMemoryPrefix, agentID)
}
