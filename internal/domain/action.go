package domain

import "time"

// SystemActor — зарезервированный актор для действий без авторизованного пользователя
// (например, неудачный вход). Всегда проходит проверку личности.
const SystemActor = "SYSTEM"

// ActionRecord одна запись журнала аудита. Только добавляется, никогда не обновляется.
type ActionRecord struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"username"` // Кто сделал (SYSTEM если не авторизован)
	Action    string    `json:"action"`   // Символьный тег действия
	Details   []byte    `json:"details"`  // Сериализованный JSON payload
	Timestamp time.Time `json:"timestamp"`
}

// ActionFilter параметры выборки журнала (просмотрщик аудита).
type ActionFilter struct {
	Actor  string    `json:"username,omitempty"` // Подстрока, ILIKE
	Action string    `json:"action,omitempty"`   // Точное совпадение
	From   time.Time `json:"start_date"`
	To     time.Time `json:"end_date"`
	Limit  int       `json:"limit,omitempty"`
}
