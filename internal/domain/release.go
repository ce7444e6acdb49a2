package domain

import "time"

// ReleaseRecord запись журнала выдачи документов (releasing_log).
type ReleaseRecord struct {
	ID         int64     `json:"id"`
	DocOwner   string    `json:"doc_owner"`
	DocType    string    `json:"doc_type"`
	CopyNo     int       `json:"copy_no"`
	ReceivedBy string    `json:"received_by"` // Обычно подставляется из верифицированного имени
	ReleasedBy string    `json:"released_by"` // ФИО оператора
	Timestamp  time.Time `json:"timestamp"`
}
