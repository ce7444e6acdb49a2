package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "rvs"
)

// Ключи (состояние)
const (
	// RedisKeyLivenessSlot — единственный слот liveness-сессии ретранслятора.
	RedisKeyLivenessSlot = RedisNamespace + ":liveness:slot"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanLivenessResult — публикация ID сессии сразу после POST /liveness_result.
	RedisChanLivenessResult = RedisNamespace + ":liveness:result"
)
