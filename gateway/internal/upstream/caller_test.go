package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobportal-admin/gateway/internal/models"
	"jobportal-admin/gateway/internal/routing"
	"jobportal-admin/shared/apperr"
	"jobportal-admin/shared/authx"
	"jobportal-admin/shared/logx"
	"jobportal-admin/shared/workflow"
)

func newCaller(t *testing.T, baseURL string, timeoutMS int, settings BreakerSettings) *HTTPCaller {
	t.Helper()
	services := map[routing.Service]routing.ServiceConfig{}
	for _, svc := range []routing.Service{routing.ServiceJobs, routing.ServiceUsers, routing.ServiceApplications} {
		services[svc] = routing.ServiceConfig{BaseURLs: []string{baseURL}, TimeoutMS: timeoutMS}
	}
	dir, err := routing.New(routing.Config{Services: services}, time.Second)
	require.NoError(t, err)
	return NewHTTPCaller(dir, http.DefaultClient, logx.Discard(), settings)
}

func TestCallPropagatesIdentity(t *testing.T) {
	var gotHeaders http.Header
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotPath = r.URL.RequestURI()
		_ = json.NewEncoder(w).Encode(models.User{ID: 99, FullName: "Grace", EmailID: "grace@example.com"})
	}))
	defer srv.Close()

	caller := newCaller(t, srv.URL, 1000, BreakerSettings{})
	ctx := authx.WithIdentity(context.Background(), authx.Identity{Subject: "admin@example.com", Email: "admin@example.com", UserID: "1"})

	user, err := NewUsersClient(caller).Get(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, "Grace", user.FullName)
	assert.Equal(t, "/api/users/profile/99", gotPath)
	assert.Equal(t, "admin@example.com", gotHeaders.Get(HeaderSubject))
	assert.Equal(t, "1", gotHeaders.Get(HeaderUserID))
	assert.Empty(t, gotHeaders.Get("Authorization"))
}

func TestCallStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   apperr.Category
	}{
		{http.StatusNotFound, apperr.NotFound},
		{http.StatusBadRequest, apperr.InvalidRequest},
		{http.StatusUnprocessableEntity, apperr.InvalidRequest},
		{http.StatusServiceUnavailable, apperr.UpstreamUnavailable},
		{http.StatusGatewayTimeout, apperr.UpstreamUnavailable},
		{http.StatusInternalServerError, apperr.UpstreamError},
		{http.StatusForbidden, apperr.UpstreamError},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"trace":"java.lang.NullPointerException at com.internal"}`))
		}))
		caller := newCaller(t, srv.URL, 1000, BreakerSettings{Threshold: 100})

		_, err := NewJobsClient(caller).Get(context.Background(), 5)
		srv.Close()

		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.want, apperr.CategoryOf(err), "status %d", tc.status)
		assert.NotContains(t, apperr.MessageOf(err), "NullPointer")
	}
}

func TestCallTimeoutIsUpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	caller := newCaller(t, srv.URL, 50, BreakerSettings{})
	start := time.Now()
	_, err := NewUsersClient(caller).Get(context.Background(), 99)
	require.Error(t, err)
	assert.Equal(t, apperr.UpstreamUnavailable, apperr.CategoryOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestCallCircuitOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	caller := newCaller(t, srv.URL, 1000, BreakerSettings{Threshold: 2, Reset: time.Minute})
	jobs := NewJobsClient(caller)
	for i := 0; i < 2; i++ {
		_, err := jobs.List(context.Background())
		assert.Equal(t, apperr.UpstreamError, apperr.CategoryOf(err))
	}
	_, err := jobs.List(context.Background())
	assert.Equal(t, apperr.UpstreamUnavailable, apperr.CategoryOf(err))
	assert.Equal(t, int32(2), hits.Load())

	_, err = NewUsersClient(caller).List(context.Background())
	assert.Equal(t, apperr.UpstreamError, apperr.CategoryOf(err))
	assert.Equal(t, int32(3), hits.Load())
}

func TestCallUnknownService(t *testing.T) {
	dir, err := routing.New(routing.Config{}, time.Second)
	require.NoError(t, err)
	caller := NewHTTPCaller(dir, http.DefaultClient, logx.Discard(), BreakerSettings{})

	_, err = NewApplicationsClient(caller).Get(context.Background(), 1)
	assert.Equal(t, apperr.ServiceUnavailable, apperr.CategoryOf(err))
}

func TestClientsSendParameters(t *testing.T) {
	var method, uri string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, uri = r.Method, r.URL.RequestURI()
		body = nil
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch {
		case r.URL.Path == "/api/admin/jobs":
			_ = json.NewEncoder(w).Encode(models.Job{ID: 11, Title: "Go Developer", CompanyID: 7})
		case r.URL.Path == "/api/admin/job_applications/42/status":
			_ = json.NewEncoder(w).Encode(models.JobApplication{ID: 42, ApplicationStatus: workflow.ApplicationAccepted})
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()
	caller := newCaller(t, srv.URL, 1000, BreakerSettings{})

	job, err := NewJobsClient(caller).Create(context.Background(), models.Job{Title: "Go Developer"}, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(11), job.ID)
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/api/admin/jobs?companyId=7", uri)
	assert.Equal(t, "Go Developer", body["title"])

	app, err := NewApplicationsClient(caller).UpdateStatus(context.Background(), 42, workflow.ApplicationAccepted)
	require.NoError(t, err)
	assert.Equal(t, workflow.ApplicationAccepted, app.ApplicationStatus)
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/api/admin/job_applications/42/status?status=ACCEPTED", uri)

	require.NoError(t, NewUsersClient(caller).Delete(context.Background(), 3))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/api/users/3", uri)
}

func TestUpdateAcceptsPlainTextAcknowledgement(t *testing.T) {
	var writes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writes.Add(1)
		w.Header().Set("Content-Type", "text/plain;charset=UTF-8")
		_, _ = w.Write([]byte("Job updated successfully"))
	}))
	defer srv.Close()

	caller := newCaller(t, srv.URL, 1000, BreakerSettings{})
	job := models.Job{ID: 5, Title: "Staff Engineer", CompanyID: 7, Status: workflow.JobOpen}
	got, err := NewJobsClient(caller).Update(context.Background(), 5, job)
	require.NoError(t, err)
	assert.Equal(t, job, got)
	assert.Equal(t, int32(1), writes.Load())
}

func TestDeclaredJSONMustParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":`))
	}))
	defer srv.Close()

	caller := newCaller(t, srv.URL, 1000, BreakerSettings{})
	_, err := NewJobsClient(caller).Get(context.Background(), 5)
	assert.Equal(t, apperr.UpstreamError, apperr.CategoryOf(err))
}

func TestDecodable(t *testing.T) {
	assert.True(t, decodable("application/json; charset=utf-8", []byte(`{}`)))
	assert.True(t, decodable("application/problem+json", []byte(`{}`)))
	assert.True(t, decodable("text/plain; charset=utf-8", []byte(`{"id":1}`)))
	assert.False(t, decodable("text/plain", []byte("Job updated successfully")))
	assert.False(t, decodable("application/json", []byte("  ")))
}

func TestCallCircuitLetsOneTrialThrough(t *testing.T) {
	var healthy atomic.Bool
	var hits atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		entered <- struct{}{}
		<-release
		_ = json.NewEncoder(w).Encode([]models.Job{})
	}))
	defer srv.Close()

	caller := newCaller(t, srv.URL, 2000, BreakerSettings{Threshold: 1, Reset: 20 * time.Millisecond})
	jobs := NewJobsClient(caller)
	_, err := jobs.List(context.Background())
	assert.Equal(t, apperr.UpstreamError, apperr.CategoryOf(err))

	time.Sleep(30 * time.Millisecond)
	healthy.Store(true)
	trial := make(chan error, 1)
	go func() {
		_, err := jobs.List(context.Background())
		trial <- err
	}()
	<-entered

	_, err = jobs.List(context.Background())
	assert.Equal(t, apperr.UpstreamUnavailable, apperr.CategoryOf(err))
	assert.Equal(t, int32(2), hits.Load())

	close(release)
	require.NoError(t, <-trial)
	_, err = jobs.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}
