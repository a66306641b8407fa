package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
	"github.com/nbu-mindcare/triage-api/internal/mocks"
	"github.com/nbu-mindcare/triage-api/internal/service"
)

func newJobsRouterWithMock(t *testing.T) (http.Handler, *mocks.MockJobRepository) {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockRepo := mocks.NewMockJobRepository(ctrl)
	svc := service.MustNewJobService(service.JobServiceOptions{
		Repo:         mockRepo,
		DefaultLease: 2 * time.Minute,
	})
	return NewRouter(RouterServices{Jobs: svc}), mockRepo
}

func TestJobStats(t *testing.T) {
	router, repo := newJobsRouterWithMock(t)
	repo.EXPECT().Stats(gomock.Any()).Return(&model.JobStats{Pending: 3, Running: 1, Success: 10, Failed: 2}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got model.JobStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, model.JobStats{Pending: 3, Running: 1, Success: 10, Failed: 2}, got)
}

func TestJobGet(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		router, repo := newJobsRouterWithMock(t)
		repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(&model.Job{
			ID:     "job-1",
			Type:   model.JobTypeNotifyStaff,
			Status: model.JobStatusFailed,
		}, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var got model.Job
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, "job-1", got.ID)
		assert.Equal(t, model.JobStatusFailed, got.Status)
	})

	t.Run("missing", func(t *testing.T) {
		router, repo := newJobsRouterWithMock(t)
		repo.EXPECT().GetByID(gomock.Any(), "nope").Return(nil, model.ErrJobNotFound)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("repository failure hides detail", func(t *testing.T) {
		router, repo := newJobsRouterWithMock(t)
		repo.EXPECT().GetByID(gomock.Any(), "job-2").Return(nil, errors.New("pq: password authentication failed"))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-2", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "password")
	})
}

func TestJobList(t *testing.T) {
	t.Run("filters and pagination", func(t *testing.T) {
		router, repo := newJobsRouterWithMock(t)
		status := model.JobStatusFailed
		jobType := model.JobTypeEscalationCheck
		repo.EXPECT().List(gomock.Any(), model.JobListOptions{
			Status: &status,
			Type:   &jobType,
			Limit:  20,
			Offset: 40,
		}).Return([]*model.Job{
			{ID: "a", Type: model.JobTypeEscalationCheck, Status: model.JobStatusFailed},
			{ID: "b", Type: model.JobTypeEscalationCheck, Status: model.JobStatusFailed},
		}, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
			"/api/jobs?status=failed&type=escalation_check&limit=20&offset=40", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var got jobListResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		require.Len(t, got.Jobs, 2)
		assert.Equal(t, model.JobTypeEscalationCheck, got.Jobs[0].Type)
		assert.Equal(t, 20, got.Limit)
		assert.Equal(t, 40, got.Offset)
	})

	t.Run("limit is clamped and empty list is an array", func(t *testing.T) {
		router, repo := newJobsRouterWithMock(t)
		repo.EXPECT().List(gomock.Any(), model.JobListOptions{Limit: maxJobListLimit}).Return(nil, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
			fmt.Sprintf("/api/jobs?limit=%d&offset=-5", maxJobListLimit*10), nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"jobs":[]`)
	})

	t.Run("unknown status is a bad request", func(t *testing.T) {
		router, _ := newJobsRouterWithMock(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs?status=exploded", nil))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var body errorBody
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "validation", body.Error)
		assert.Equal(t, "status", body.Field)
	})
}

func TestJobListQuery(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{name: "defaults", query: "", wantLimit: defaultJobListLimit, wantOffset: 0},
		{name: "explicit", query: "?limit=10&offset=5", wantLimit: 10, wantOffset: 5},
		{name: "garbage falls back", query: "?limit=ten&offset=x", wantLimit: defaultJobListLimit, wantOffset: 0},
		{name: "zero limit becomes one", query: "?limit=0&offset=-3", wantLimit: 1, wantOffset: 0},
		{name: "clamped to max", query: "?limit=9999", wantLimit: maxJobListLimit, wantOffset: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/jobs"+tt.query, nil)
			opts := jobListQuery(r)
			assert.Equal(t, tt.wantLimit, opts.Limit)
			assert.Equal(t, tt.wantOffset, opts.Offset)
			assert.Nil(t, opts.Status)
			assert.Nil(t, opts.Type)
		})
	}

	r := httptest.NewRequest(http.MethodGet, "/api/jobs?status=+failed+&type=escalation_check", nil)
	opts := jobListQuery(r)
	require.NotNil(t, opts.Status)
	require.NotNil(t, opts.Type)
	assert.Equal(t, model.JobStatus("failed"), *opts.Status)
	assert.Equal(t, model.JobType("escalation_check"), *opts.Type)
}
