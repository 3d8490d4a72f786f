package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobportal-admin/gateway/internal/admin"
	"jobportal-admin/gateway/internal/models"
	"jobportal-admin/shared/apperr"
	"jobportal-admin/shared/authx"
	"jobportal-admin/shared/events"
	"jobportal-admin/shared/logx"
	"jobportal-admin/shared/workflow"
)

type stubJobs struct {
	created   []int64
	deleted   []int64
	createErr error
}

func (s *stubJobs) List(context.Context) ([]models.Job, error) {
	return []models.Job{{ID: 1, Title: "Go developer", Status: workflow.JobOpen}}, nil
}

func (s *stubJobs) Get(_ context.Context, id int64) (models.Job, error) {
	if id != 1 {
		return models.Job{}, apperr.New(apperr.NotFound, "job not found")
	}
	return models.Job{ID: 1, Title: "Go developer", Status: workflow.JobOpen}, nil
}

func (s *stubJobs) Create(_ context.Context, job models.Job, companyID int64) (models.Job, error) {
	if s.createErr != nil {
		return models.Job{}, s.createErr
	}
	s.created = append(s.created, companyID)
	job.ID = 9
	job.CompanyID = companyID
	return job, nil
}

func (s *stubJobs) Update(_ context.Context, id int64, job models.Job) (models.Job, error) {
	job.ID = id
	return job, nil
}

func (s *stubJobs) Delete(_ context.Context, id int64) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type stubUsers struct{}

func (stubUsers) List(context.Context) ([]models.User, error) { return nil, nil }

func (stubUsers) Get(_ context.Context, id int64) (models.User, error) {
	return models.User{ID: id, FullName: "Ada", EmailID: "ada@example.com", Role: "EMPLOYER"}, nil
}

func (stubUsers) Create(_ context.Context, u models.NewUser) (models.User, error) {
	return models.User{ID: 5, FullName: u.FullName, EmailID: u.EmailID, Role: u.Role}, nil
}

func (stubUsers) Update(_ context.Context, id int64, u models.User) (models.User, error) {
	u.ID = id
	return u, nil
}

func (stubUsers) Delete(context.Context, int64) error { return nil }

type stubApps struct{}

func (stubApps) Get(_ context.Context, id int64) (models.JobApplication, error) {
	return models.JobApplication{ID: id, JobID: 1, ApplicationStatus: workflow.ApplicationApplied}, nil
}

func (stubApps) ListForJob(_ context.Context, jobID int64) ([]models.JobApplication, error) {
	return []models.JobApplication{{ID: 3, JobID: jobID, ApplicationStatus: workflow.ApplicationPending}}, nil
}

func (stubApps) ListForUser(_ context.Context, userID int64) ([]models.JobApplication, error) {
	return []models.JobApplication{{ID: 4, ApplicantID: userID, ApplicationStatus: workflow.ApplicationPending}}, nil
}

func (stubApps) UpdateStatus(_ context.Context, id int64, status workflow.ApplicationStatus) (models.JobApplication, error) {
	return models.JobApplication{ID: id, JobID: 1, ApplicationStatus: status}, nil
}

type stubPublisher struct {
	err    error
	events []events.ActivityEvent
}

func (p *stubPublisher) Publish(_ context.Context, ev events.ActivityEvent) (events.ActivityEvent, error) {
	ev.EventID = "evt-9"
	p.events = append(p.events, ev)
	return ev, p.err
}

type envelope struct {
	Data     json.RawMessage  `json:"data"`
	Warnings []apperr.Warning `json:"warnings"`
	Error    struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type harness struct {
	mux  *http.ServeMux
	jobs *stubJobs
	pub  *stubPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{mux: http.NewServeMux(), jobs: &stubJobs{}, pub: &stubPublisher{}}
	svc := admin.NewService(h.jobs, stubUsers{}, stubApps{}, h.pub, logx.Discard())
	AdminHandler{Service: svc}.Register(h.mux)
	return h
}

func (h *harness) do(t *testing.T, method string, path string, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(authx.WithIdentity(req.Context(), authx.Identity{Subject: "admin@example.com", UserID: "1", Roles: []string{"ROLE_ADMIN"}}))
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestUpdateApplicationStatusByQuery(t *testing.T) {
	h := newHarness(t)
	rec, env := h.do(t, http.MethodPut, Prefix+"/applications/42/status?status=ACCEPTED", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var app models.JobApplication
	require.NoError(t, json.Unmarshal(env.Data, &app))
	assert.Equal(t, int64(42), app.ID)
	assert.Equal(t, workflow.ApplicationAccepted, app.ApplicationStatus)
	assert.Empty(t, env.Warnings)

	require.Len(t, h.pub.events, 1)
	assert.Equal(t, events.TypeApplicationStatus, h.pub.events[0].EventType)
	assert.Equal(t, "42", h.pub.events[0].TargetResource)
}

func TestUpdateApplicationStatusByBody(t *testing.T) {
	h := newHarness(t)
	rec, env := h.do(t, http.MethodPut, Prefix+"/applications/42/status", `{"status":"under review"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var app models.JobApplication
	require.NoError(t, json.Unmarshal(env.Data, &app))
	assert.Equal(t, workflow.ApplicationUnderReview, app.ApplicationStatus)
}

func TestUpdateApplicationStatusRejectsUnknown(t *testing.T) {
	h := newHarness(t)
	rec, env := h.do(t, http.MethodPut, Prefix+"/applications/42/status?status=HIRED", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)
	assert.Empty(t, h.pub.events)

	rec, env = h.do(t, http.MethodPut, Prefix+"/applications/42/status", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "status is required", env.Error.Message)
}

func TestCreateJob(t *testing.T) {
	h := newHarness(t)
	rec, env := h.do(t, http.MethodPost, Prefix+"/jobs?companyId=12", `{"title":"Go developer"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var job models.Job
	require.NoError(t, json.Unmarshal(env.Data, &job))
	assert.Equal(t, int64(9), job.ID)
	assert.Equal(t, []int64{12}, h.jobs.created)

	rec, _ = h.do(t, http.MethodPost, Prefix+"/jobs", `{"title":"SRE","companyId":13}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []int64{12, 13}, h.jobs.created)
}

func TestCreateJobWithoutTitle(t *testing.T) {
	h := newHarness(t)
	rec, env := h.do(t, http.MethodPost, Prefix+"/jobs?companyId=12", `{"description":"no title"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)
	assert.Empty(t, h.jobs.created)
	assert.Empty(t, h.pub.events)
}

func TestUpstreamErrorsKeepCategory(t *testing.T) {
	h := newHarness(t)
	h.jobs.createErr = apperr.New(apperr.UpstreamUnavailable, "job service unavailable")
	rec, env := h.do(t, http.MethodPost, Prefix+"/jobs?companyId=12", `{"title":"Go developer"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", env.Error.Code)

	rec, env = h.do(t, http.MethodGet, Prefix+"/jobs/77", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	rec, env = h.do(t, http.MethodGet, Prefix+"/jobs/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)
}

func TestDeleteJob(t *testing.T) {
	h := newHarness(t)
	rec, _ := h.do(t, http.MethodDelete, Prefix+"/jobs/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []int64{1}, h.jobs.deleted)
	require.Len(t, h.pub.events, 1)
	assert.Equal(t, "DELETED", h.pub.events[0].Status)
}

func TestDeleteJobReportsPublishWarning(t *testing.T) {
	h := newHarness(t)
	h.pub.err = errors.New("broker down")
	rec, env := h.do(t, http.MethodDelete, Prefix+"/jobs/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.Warnings, 1)
	assert.Equal(t, apperr.PublishFailed, env.Warnings[0].Code)
	assert.Equal(t, "evt-9", env.Warnings[0].EventID)
}

func TestReadsCarryWarnings(t *testing.T) {
	h := newHarness(t)
	h.pub.err = errors.New("broker down")
	rec, env := h.do(t, http.MethodGet, Prefix+"/users/5", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var user models.User
	require.NoError(t, json.Unmarshal(env.Data, &user))
	assert.Equal(t, "Ada", user.FullName)
	require.Len(t, env.Warnings, 1)
}

func TestListApplicationsFilter(t *testing.T) {
	h := newHarness(t)
	rec, env := h.do(t, http.MethodGet, Prefix+"/applications?jobId=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var apps []models.JobApplication
	require.NoError(t, json.Unmarshal(env.Data, &apps))
	require.Len(t, apps, 1)
	assert.Equal(t, int64(3), apps[0].ID)

	rec, _ = h.do(t, http.MethodGet, Prefix+"/applications", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateUserValidation(t *testing.T) {
	h := newHarness(t)
	rec, env := h.do(t, http.MethodPost, Prefix+"/users", `{"fullName":"Ada","emailId":"not-an-email","password":"longenough","role":"EMPLOYER"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "emailId must be a valid email", env.Error.Message)

	rec, _ = h.do(t, http.MethodPost, Prefix+"/users", `{"fullName":"Ada","emailId":"ada@example.com","password":"longenough","role":"EMPLOYER"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "longenough")
}
