package everify

import "errors"

var (
	// ErrUpstreamTimeout — внешний API не ответил за отведенное время.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUpstreamUnavailable — сетевые сбои не прошли за все попытки (или открыт предохранитель).
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrAuthFailed — не удалось получить токен доступа.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrBadRequest — запрос не собрался (адрес, тело). Не повторяется.
	ErrBadRequest = errors.New("bad upstream request")
)
