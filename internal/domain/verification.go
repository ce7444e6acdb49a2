package domain

import (
	"strings"
	"time"
)

type QueryMode string

const (
	ModeManual QueryMode = "Manual"
	ModeQR     QueryMode = "QR"
)

// Result итог сессии верификации
type Result string

const (
	ResultPending  Result = "Pending"
	ResultVerified Result = "Verified"
	ResultNotFound Result = "NotFound"
	ResultFailed   Result = "Failed"
)

const (
	GenderFemale  = "Female"
	StatusMarried = "Married"
)

// Subject атрибуты личности, введенные оператором вручную.
// Необязательные поля (отчество, суффикс) — nil, если не заданы. Пустая строка != nil.
type Subject struct {
	FirstName  string  `json:"first_name"`
	MiddleName *string `json:"middle_name"`
	LastName   string  `json:"last_name"`
	Suffix     *string `json:"suffix"`
	BirthDate  string  `json:"birth_date"` // YYYY-MM-DD
}

// Normalize приводит поля к верхнему регистру и превращает пустые необязательные поля в nil.
func (s Subject) Normalize() Subject {
	return Subject{
		FirstName:  strings.ToUpper(strings.TrimSpace(s.FirstName)),
		MiddleName: optionalUpper(s.MiddleName),
		LastName:   strings.ToUpper(strings.TrimSpace(s.LastName)),
		Suffix:     optionalUpper(s.Suffix),
		BirthDate:  strings.TrimSpace(s.BirthDate),
	}
}

func optionalUpper(v *string) *string {
	v = Optional(v)
	if v == nil {
		return nil
	}
	s := strings.ToUpper(*v)
	return &s
}

// Optional сводит пустое значение и "N/A" к nil, остальное обрезает по краям.
// Одно правило и для запроса, и для сохраняемой записи.
func Optional(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" || strings.EqualFold(s, "N/A") {
		return nil
	}
	return &s
}

// VerificationRecord неизменяемая запись о верифицированном субъекте.
type VerificationRecord struct {
	ID            int64     `json:"id"`
	Reference     *string   `json:"reference"` // Уникален, если задан
	Code          *string   `json:"code"`
	FirstName     string    `json:"first_name"`
	MiddleName    *string   `json:"middle_name"`
	LastName      string    `json:"last_name"`
	Suffix        *string   `json:"suffix"`
	BirthDate     string    `json:"birth_date"`
	Gender        string    `json:"gender"`
	MaritalStatus string    `json:"marital_status"`
	FaceKey       *string   `json:"face_key"` // Имя файла лица в хранилище
	Municipality  *string   `json:"municipality"`
	Province      *string   `json:"province"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasFace true, если у записи есть ключ изображения лица
func (r *VerificationRecord) HasFace() bool {
	return r.FaceKey != nil && *r.FaceKey != ""
}

// DisplayName каноническое имя записи (см. ComposeName).
func (r *VerificationRecord) DisplayName() string {
	return ComposeName(NameParts{
		Gender:        r.Gender,
		MaritalStatus: r.MaritalStatus,
		FirstName:     r.FirstName,
		MiddleName:    deref(r.MiddleName),
		LastName:      r.LastName,
		Suffix:        deref(r.Suffix),
	})
}

type NameParts struct {
	Gender        string
	MaritalStatus string
	FirstName     string
	MiddleName    string
	LastName      string
	Suffix        string
}

// ComposeName собирает отображаемое имя:
//   - Female + Married: имя + отчество (девичья фамилия);
//   - Female иначе: имя + фамилия;
//   - остальные: имя + фамилия + суффикс (если есть).
func ComposeName(p NameParts) string {
	parts := []string{p.FirstName}
	switch {
	case p.Gender == GenderFemale && p.MaritalStatus == StatusMarried:
		parts = append(parts, p.MiddleName)
	case p.Gender == GenderFemale:
		parts = append(parts, p.LastName)
	default:
		parts = append(parts, p.LastName, p.Suffix)
	}

	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
