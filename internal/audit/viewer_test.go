package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/rvs-verify/internal/domain"
)

type readerMock struct {
	mock.Mock
}

func (m *readerMock) FetchActions(ctx context.Context, f domain.ActionFilter) ([]domain.ActionRecord, error) {
	args := m.Called(ctx, f)
	rows, _ := args.Get(0).([]domain.ActionRecord)
	return rows, args.Error(1)
}

func (m *readerMock) ListActionTags(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	tags, _ := args.Get(0).([]string)
	return tags, args.Error(1)
}

type recorderMock struct {
	mock.Mock
}

func (m *recorderMock) LogAction(ctx context.Context, actor, action string, details any) error {
	return m.Called(ctx, actor, action, details).Error(0)
}

func TestViewer_FetchAuditsQuery(t *testing.T) {
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	filter := domain.ActionFilter{Actor: "jd", From: from, To: to}

	repo := &readerMock{}
	repo.On("FetchActions", mock.Anything, filter).Return([]domain.ActionRecord{{ID: 2}, {ID: 1}}, nil)

	rec := &recorderMock{}
	rec.On("LogAction", mock.Anything, "admin", ActionAuditLogsLoaded, mock.MatchedBy(func(d map[string]any) bool {
		return d["rows_returned"] == 2
	})).Return(nil)

	rows, err := NewViewer(repo, rec).Fetch(context.Background(), "admin", filter)

	require.NoError(t, err)
	assert.Len(t, rows, 2)
	rec.AssertExpectations(t)
}

func TestViewer_FetchRejectsInvertedRange(t *testing.T) {
	repo := &readerMock{}
	rec := &recorderMock{}
	now := time.Now()

	_, err := NewViewer(repo, rec).Fetch(context.Background(), "admin", domain.ActionFilter{From: now, To: now.Add(-time.Hour)})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	repo.AssertNotCalled(t, "FetchActions", mock.Anything, mock.Anything)
}

func TestViewer_AuditFailureSurfaces(t *testing.T) {
	repo := &readerMock{}
	repo.On("ListActionTags", mock.Anything).Return([]string{"LOGIN_SUCCESS"}, nil)
	rec := &recorderMock{}
	rec.On("LogAction", mock.Anything, "admin", ActionActionTypesLoaded, mock.Anything).
		Return(&StorageError{Attempts: 3, Err: errors.New("down")})

	_, err := NewViewer(repo, rec).ActionTags(context.Background(), "admin")

	assert.ErrorIs(t, err, ErrStorageFailed)
}
