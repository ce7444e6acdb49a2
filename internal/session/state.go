package session

import (
	"github.com/xela07ax/rvs-verify/internal/domain"
)

type State int

const (
	StateIdle State = iota
	StateAwaitingLookup
	StateAwaitingLiveness
	StateAwaitingFinalResult
	StateVerified
	StateNotFound
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingLookup:
		return "AwaitingLookup"
	case StateAwaitingLiveness:
		return "AwaitingLiveness"
	case StateAwaitingFinalResult:
		return "AwaitingFinalResult"
	case StateVerified:
		return "Verified"
	case StateNotFound:
		return "NotFound"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Category — категория сообщения оператору.
type Category string

const (
	CategoryNone         Category = ""
	CategoryAuth         Category = "authentication failure"
	CategoryDatabase     Category = "database error"
	CategoryInvalidInput Category = "invalid input"
	CategoryNotVerified  Category = "not verified"
)

// Request — то, что оператор ввел в форму.
type Request struct {
	Mode      domain.QueryMode
	Subject   domain.Subject // Manual
	QRPayload string         // QR: сырое содержимое кода
}

// Event — прогресс сессии. Seq растет с каждым Start; события старых сессий отбрасываются.
type Event struct {
	Seq   uint64
	State State
}

// Outcome — итог сессии.
type Outcome struct {
	Seq         uint64
	Result      domain.Result
	Category    Category
	DisplayName string
	// Record — локальная запись при повторной верификации (short-circuit).
	Record  *domain.VerificationRecord
	Message string
	Err     error
}
