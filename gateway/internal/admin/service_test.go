package admin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobportal-admin/gateway/internal/models"
	"jobportal-admin/shared/apperr"
	"jobportal-admin/shared/authx"
	"jobportal-admin/shared/events"
	"jobportal-admin/shared/logx"
	"jobportal-admin/shared/workflow"
)

type fakeJobs struct {
	mu      sync.Mutex
	calls   int
	stored  map[int64]models.Job
	err     error
	updates []models.Job
}

func (f *fakeJobs) hit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeJobs) List(context.Context) ([]models.Job, error) {
	if err := f.hit(); err != nil {
		return nil, err
	}
	out := make([]models.Job, 0, len(f.stored))
	for _, j := range f.stored {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeJobs) Get(_ context.Context, id int64) (models.Job, error) {
	if err := f.hit(); err != nil {
		return models.Job{}, err
	}
	j, ok := f.stored[id]
	if !ok {
		return models.Job{}, apperr.New(apperr.NotFound, "job not found")
	}
	return j, nil
}

func (f *fakeJobs) Create(_ context.Context, job models.Job, companyID int64) (models.Job, error) {
	if err := f.hit(); err != nil {
		return models.Job{}, err
	}
	job.ID = 100
	job.CompanyID = companyID
	job.Status = workflow.JobOpen
	return job, nil
}

func (f *fakeJobs) Update(_ context.Context, id int64, job models.Job) (models.Job, error) {
	if err := f.hit(); err != nil {
		return models.Job{}, err
	}
	f.updates = append(f.updates, job)
	f.stored[id] = job
	return job, nil
}

func (f *fakeJobs) Delete(context.Context, int64) error { return f.hit() }

type fakeUsers struct {
	calls  int
	stored map[int64]models.User
	getErr error
	sent   []models.User
}

func (f *fakeUsers) List(context.Context) ([]models.User, error) {
	f.calls++
	out := make([]models.User, 0, len(f.stored))
	for _, u := range f.stored {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeUsers) Get(_ context.Context, id int64) (models.User, error) {
	f.calls++
	if f.getErr != nil {
		return models.User{}, f.getErr
	}
	u, ok := f.stored[id]
	if !ok {
		return models.User{}, apperr.New(apperr.NotFound, "user not found")
	}
	return u, nil
}

func (f *fakeUsers) Create(_ context.Context, u models.NewUser) (models.User, error) {
	f.calls++
	return models.User{ID: 7, FullName: u.FullName, EmailID: u.EmailID, Role: u.Role}, nil
}

func (f *fakeUsers) Update(_ context.Context, id int64, u models.User) (models.User, error) {
	f.calls++
	f.sent = append(f.sent, u)
	f.stored[id] = u
	return u, nil
}

func (f *fakeUsers) Delete(context.Context, int64) error {
	f.calls++
	return nil
}

type fakeApps struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeApps) Get(_ context.Context, id int64) (models.JobApplication, error) {
	f.calls++
	return models.JobApplication{ID: id, ApplicationStatus: workflow.ApplicationApplied}, nil
}

func (f *fakeApps) ListForJob(_ context.Context, jobID int64) ([]models.JobApplication, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return []models.JobApplication{{ID: 1, JobID: jobID}, {ID: 2, JobID: jobID}}, nil
}

func (f *fakeApps) ListForUser(_ context.Context, userID int64) ([]models.JobApplication, error) {
	f.calls++
	return []models.JobApplication{{ID: 3, ApplicantID: userID}}, nil
}

func (f *fakeApps) UpdateStatus(_ context.Context, id int64, status workflow.ApplicationStatus) (models.JobApplication, error) {
	f.calls++
	return models.JobApplication{ID: id, JobID: 5, ApplicationStatus: status}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.ActivityEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, ev events.ActivityEvent) (events.ActivityEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.EventID = "evt-1"
	if f.err != nil {
		return ev, f.err
	}
	f.events = append(f.events, ev)
	return ev, nil
}

type fixture struct {
	svc   *Service
	jobs  *fakeJobs
	users *fakeUsers
	apps  *fakeApps
	pub   *fakePublisher
}

func newFixture() fixture {
	f := fixture{
		jobs: &fakeJobs{stored: map[int64]models.Job{
			5: {ID: 5, Title: "Backend Engineer", Location: "Remote", CompanyID: 7, Status: workflow.JobOpen},
		}},
		users: &fakeUsers{stored: map[int64]models.User{
			3: {ID: 3, FullName: "Ada", EmailID: "ada@example.com", Role: "ROLE_USER", Skills: []string{"go"}, Resume: "ada.pdf", ProfilePhoto: "ada.png"},
		}},
		apps: &fakeApps{},
		pub:  &fakePublisher{},
	}
	f.svc = NewService(f.jobs, f.users, f.apps, f.pub, logx.Discard())
	return f
}

func adminCtx() context.Context {
	return authx.WithIdentity(context.Background(), authx.Identity{Subject: "admin@example.com", Email: "admin@example.com", Roles: []string{"ROLE_ADMIN"}})
}

func TestUpdateApplicationStatusPublishesEvent(t *testing.T) {
	f := newFixture()

	res, err := f.svc.UpdateApplicationStatus(adminCtx(), "42", "ACCEPTED")
	require.NoError(t, err)
	assert.Equal(t, workflow.ApplicationAccepted, res.Data.ApplicationStatus)
	assert.Empty(t, res.Warnings)

	require.Len(t, f.pub.events, 1)
	ev := f.pub.events[0]
	assert.Equal(t, events.TypeApplicationStatus, ev.EventType)
	assert.Equal(t, "42", ev.TargetResource)
	assert.Equal(t, "ACCEPTED", ev.Status)
	assert.Equal(t, ActionStatusChange, ev.Action)
	assert.Equal(t, "admin@example.com", ev.ActorID)
}

func TestUpdateApplicationStatusRejectsUnknownStatus(t *testing.T) {
	f := newFixture()

	_, err := f.svc.UpdateApplicationStatus(adminCtx(), "42", "HIRED")
	assert.Equal(t, apperr.InvalidRequest, apperr.CategoryOf(err))
	assert.Zero(t, f.apps.calls)
	assert.Empty(t, f.pub.events)
}

func TestCreateJobWithoutTitleIsRejectedLocally(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateJob(adminCtx(), models.Job{Description: "no title"}, "7")
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidRequest, apperr.CategoryOf(err))
	assert.Equal(t, "title is required", apperr.MessageOf(err))
	assert.Zero(t, f.jobs.calls)
	assert.Empty(t, f.pub.events)
}

func TestCreateJob(t *testing.T) {
	f := newFixture()

	res, err := f.svc.CreateJob(adminCtx(), models.Job{Title: "Go Developer"}, "7")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Data.ID)
	assert.Equal(t, int64(7), res.Data.CompanyID)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, events.TypeJobUpdate, f.pub.events[0].EventType)
	assert.Equal(t, ActionJobCreated, f.pub.events[0].Action)
	assert.Equal(t, "100", f.pub.events[0].TargetResource)

	_, err = f.svc.CreateJob(adminCtx(), models.Job{Title: "Go Developer"}, "abc")
	assert.Equal(t, apperr.InvalidRequest, apperr.CategoryOf(err))
}

func TestGetUserTimeoutEmitsNothing(t *testing.T) {
	f := newFixture()
	f.users.getErr = apperr.New(apperr.UpstreamUnavailable, "user service timed out")

	_, err := f.svc.GetUser(adminCtx(), "99")
	assert.Equal(t, apperr.UpstreamUnavailable, apperr.CategoryOf(err))
	assert.Empty(t, f.pub.events)
}

func TestUpdateJobPublishFailureIsWarning(t *testing.T) {
	f := newFixture()
	f.pub.err = errors.New("broker unreachable")
	title := "Staff Engineer"

	res, err := f.svc.UpdateJob(adminCtx(), "5", models.JobPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Staff Engineer", res.Data.Title)
	assert.Equal(t, "Remote", res.Data.Location)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, apperr.PublishFailed, res.Warnings[0].Code)
	assert.Equal(t, "evt-1", res.Warnings[0].EventID)
	assert.Equal(t, "Staff Engineer", f.jobs.stored[5].Title)
}

func TestUpdateUserMergesOnlyPresentFields(t *testing.T) {
	f := newFixture()
	skills := []string{"go", "kafka"}

	res, err := f.svc.UpdateUser(adminCtx(), "3", models.UserPatch{Skills: &skills})
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "kafka"}, res.Data.Skills)
	assert.Equal(t, "ada.pdf", res.Data.Resume)
	assert.Equal(t, "ada.png", res.Data.ProfilePhoto)

	require.Len(t, f.users.sent, 1)
	assert.Equal(t, "ada.pdf", f.users.sent[0].Resume)
	assert.Equal(t, int64(3), f.users.sent[0].ID)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, events.TypeUserActivity, f.pub.events[0].EventType)
	assert.Equal(t, "3", f.pub.events[0].TargetResource)
}

func TestUpdateUserRejectsBadEmail(t *testing.T) {
	f := newFixture()
	email := "not-an-email"

	_, err := f.svc.UpdateUser(adminCtx(), "3", models.UserPatch{EmailID: &email})
	assert.Equal(t, apperr.InvalidRequest, apperr.CategoryOf(err))
	assert.Equal(t, "emailId must be a valid email", apperr.MessageOf(err))
	assert.Zero(t, f.users.calls)
}

func TestOperationsRequireIdentity(t *testing.T) {
	f := newFixture()

	_, err := f.svc.ListJobs(context.Background())
	assert.Equal(t, apperr.Unauthorized, apperr.CategoryOf(err))
	_, err = f.svc.DeleteUser(context.Background(), "3")
	assert.Equal(t, apperr.Unauthorized, apperr.CategoryOf(err))
	assert.Zero(t, f.jobs.calls)
	assert.Zero(t, f.users.calls)
}

func TestInvalidIdentifiers(t *testing.T) {
	f := newFixture()
	for _, raw := range []string{"", "0", "-4", "x1", "1.5"} {
		_, err := f.svc.GetJob(adminCtx(), raw)
		assert.Equal(t, apperr.InvalidRequest, apperr.CategoryOf(err), "id %q", raw)
	}
	assert.Zero(t, f.jobs.calls)
}

func TestEverySuccessfulOperationEmitsOneEvent(t *testing.T) {
	ctx := adminCtx()
	title := "Renamed"
	fullName := "Ada L."
	cases := []struct {
		name       string
		run        func(s *Service) error
		wantType   events.EventType
		wantTarget string
	}{
		{"overview", func(s *Service) error { _, err := s.Overview(ctx); return err }, events.TypeAuditLog, "overview"},
		{"listJobs", func(s *Service) error { _, err := s.ListJobs(ctx); return err }, events.TypeAuditLog, "jobs"},
		{"getJob", func(s *Service) error { _, err := s.GetJob(ctx, "5"); return err }, events.TypeAuditLog, "5"},
		{"jobDetail", func(s *Service) error { _, err := s.GetJobDetail(ctx, "5"); return err }, events.TypeAuditLog, "5"},
		{"updateJob", func(s *Service) error { _, err := s.UpdateJob(ctx, "5", models.JobPatch{Title: &title}); return err }, events.TypeJobUpdate, "5"},
		{"approveJob", func(s *Service) error { _, err := s.ApproveJob(ctx, "5"); return err }, events.TypeJobUpdate, "5"},
		{"deleteJob", func(s *Service) error { _, err := s.DeleteJob(ctx, "5"); return err }, events.TypeJobUpdate, "5"},
		{"getApplication", func(s *Service) error { _, err := s.GetApplication(ctx, "9"); return err }, events.TypeAuditLog, "9"},
		{"listByJob", func(s *Service) error { _, err := s.ListApplications(ctx, "5", ""); return err }, events.TypeAuditLog, "job:5"},
		{"listByUser", func(s *Service) error { _, err := s.ListApplications(ctx, "", "3"); return err }, events.TypeAuditLog, "user:3"},
		{"listUsers", func(s *Service) error { _, err := s.ListUsers(ctx); return err }, events.TypeAuditLog, "users"},
		{"getUser", func(s *Service) error { _, err := s.GetUser(ctx, "3"); return err }, events.TypeAuditLog, "3"},
		{"createUser", func(s *Service) error {
			_, err := s.CreateUser(ctx, models.NewUser{FullName: "Bob", EmailID: "bob@example.com", Password: "hunter22!", Role: "ROLE_USER"})
			return err
		}, events.TypeUserActivity, "7"},
		{"updateUser", func(s *Service) error { _, err := s.UpdateUser(ctx, "3", models.UserPatch{FullName: &fullName}); return err }, events.TypeUserActivity, "3"},
		{"deleteUser", func(s *Service) error { _, err := s.DeleteUser(ctx, "3"); return err }, events.TypeUserActivity, "3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			require.NoError(t, tc.run(f.svc))
			require.Len(t, f.pub.events, 1)
			assert.Equal(t, tc.wantType, f.pub.events[0].EventType)
			assert.Equal(t, tc.wantTarget, f.pub.events[0].TargetResource)
		})
	}
}

func TestApproveJobSetsStatus(t *testing.T) {
	f := newFixture()

	res, err := f.svc.ApproveJob(adminCtx(), "5")
	require.NoError(t, err)
	assert.Equal(t, workflow.JobApproved, res.Data.Status)
	assert.Equal(t, "Backend Engineer", res.Data.Title)
	assert.Equal(t, string(workflow.JobApproved), f.pub.events[0].Status)
	assert.Equal(t, 2, f.jobs.calls)
}

func TestJobDetailFansOut(t *testing.T) {
	f := newFixture()

	res, err := f.svc.GetJobDetail(adminCtx(), "5")
	require.NoError(t, err)
	assert.Equal(t, "Backend Engineer", res.Data.Job.Title)
	assert.Len(t, res.Data.Applications, 2)
	assert.Equal(t, 1, f.jobs.calls)
	assert.Equal(t, 1, f.apps.calls)
}

func TestListApplicationsNeedsOneFilter(t *testing.T) {
	f := newFixture()

	_, err := f.svc.ListApplications(adminCtx(), "", "")
	assert.Equal(t, apperr.InvalidRequest, apperr.CategoryOf(err))
	_, err = f.svc.ListApplications(adminCtx(), "1", "2")
	assert.Equal(t, apperr.InvalidRequest, apperr.CategoryOf(err))
	assert.Zero(t, f.apps.calls)
}

func TestCancelledRequestSkipsWrite(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(adminCtx())
	cancel()

	_, err := f.svc.DeleteJob(ctx, "5")
	require.Error(t, err)
	assert.Zero(t, f.jobs.calls)
	assert.Empty(t, f.pub.events)
}

// cancellingJobs cancels the request while the delete is in flight.
type cancellingJobs struct {
	*fakeJobs
	cancel context.CancelFunc
}

func (c cancellingJobs) Delete(ctx context.Context, id int64) error {
	c.cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.fakeJobs.Delete(ctx, id)
}

func TestCancelDuringWriteStillCommitsAndEmits(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(adminCtx())
	defer cancel()
	svc := NewService(cancellingJobs{fakeJobs: f.jobs, cancel: cancel}, f.users, f.apps, f.pub, logx.Discard())

	_, err := svc.DeleteJob(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, 1, f.jobs.calls)
	require.Len(t, f.pub.events, 1)
	assert.Equal(t, ActionJobDeleted, f.pub.events[0].Action)
	assert.Equal(t, "5", f.pub.events[0].TargetResource)
}
