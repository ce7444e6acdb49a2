package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/rvs-verify/internal/domain"
)

// ActionReader описывает контракт для чтения журнала аудита.
type ActionReader interface {
	FetchActions(ctx context.Context, filter domain.ActionFilter) ([]domain.ActionRecord, error)
	ListActionTags(ctx context.Context) ([]string, error)
}

// Viewer — просмотрщик журнала. Каждая выборка сама попадает в журнал.
type Viewer struct {
	repo     ActionReader
	recorder Recorder
}

func NewViewer(repo ActionReader, recorder Recorder) *Viewer {
	return &Viewer{repo: repo, recorder: recorder}
}

// Fetch выбирает записи по фильтру, новые сверху.
// Пустой диапазон дат: последние сутки.
func (v *Viewer) Fetch(ctx context.Context, operator string, filter domain.ActionFilter) ([]domain.ActionRecord, error) {
	if filter.To.IsZero() {
		filter.To = time.Now()
	}
	if filter.From.IsZero() {
		filter.From = filter.To.Add(-24 * time.Hour)
	}
	if filter.From.After(filter.To) {
		return nil, fmt.Errorf("%w: start date after end date", domain.ErrInvalidInput)
	}

	rows, err := v.repo.FetchActions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("audit_viewer: failed to fetch actions: %w", err)
	}

	err = v.recorder.LogAction(ctx, operator, ActionAuditLogsLoaded, map[string]any{
		"filters": map[string]any{
			"username":   filter.Actor,
			"action":     filter.Action,
			"start_date": filter.From.Format(time.DateOnly),
			"end_date":   filter.To.Format(time.DateOnly),
		},
		"rows_returned": len(rows),
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ActionTags — список различных тегов для выпадающего фильтра.
func (v *Viewer) ActionTags(ctx context.Context, operator string) ([]string, error) {
	tags, err := v.repo.ListActionTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit_viewer: failed to list action tags: %w", err)
	}
	if err := v.recorder.LogAction(ctx, operator, ActionActionTypesLoaded, map[string]any{"count": len(tags)}); err != nil {
		return nil, err
	}
	return tags, nil
}
