package admin

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"jobportal-admin/gateway/internal/models"
	"jobportal-admin/shared/apperr"
	"jobportal-admin/shared/authx"
	"jobportal-admin/shared/events"
	"jobportal-admin/shared/logx"
	"jobportal-admin/shared/workflow"
)

type JobsUpstream interface {
	List(ctx context.Context) ([]models.Job, error)
	Get(ctx context.Context, id int64) (models.Job, error)
	Create(ctx context.Context, job models.Job, companyID int64) (models.Job, error)
	Update(ctx context.Context, id int64, job models.Job) (models.Job, error)
	Delete(ctx context.Context, id int64) error
}

type UsersUpstream interface {
	List(ctx context.Context) ([]models.User, error)
	Get(ctx context.Context, id int64) (models.User, error)
	Create(ctx context.Context, user models.NewUser) (models.User, error)
	Update(ctx context.Context, id int64, user models.User) (models.User, error)
	Delete(ctx context.Context, id int64) error
}

type ApplicationsUpstream interface {
	Get(ctx context.Context, id int64) (models.JobApplication, error)
	ListForJob(ctx context.Context, jobID int64) ([]models.JobApplication, error)
	ListForUser(ctx context.Context, userID int64) ([]models.JobApplication, error)
	UpdateStatus(ctx context.Context, id int64, status workflow.ApplicationStatus) (models.JobApplication, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev events.ActivityEvent) (events.ActivityEvent, error)
}

// Result is an operation outcome plus any non-fatal warnings.
type Result[T any] struct {
	Data     T
	Warnings []apperr.Warning
}

type Service struct {
	jobs      JobsUpstream
	users     UsersUpstream
	apps      ApplicationsUpstream
	publisher EventPublisher
	validate  *validator.Validate
	logger    logx.Logger
}

func NewService(jobs JobsUpstream, users UsersUpstream, apps ApplicationsUpstream, publisher EventPublisher, logger logx.Logger) *Service {
	return &Service{
		jobs:      jobs,
		users:     users,
		apps:      apps,
		publisher: publisher,
		validate:  newValidator(),
		logger:    logger,
	}
}

// Actions recorded on emitted events.
const (
	ActionJobCreated  = "JOB_CREATED"
	ActionJobUpdated  = "JOB_UPDATED"
	ActionJobDeleted  = "JOB_DELETED"
	ActionJobApproved = "JOB_APPROVED"

	ActionStatusChange = "STATUS_CHANGE"

	ActionUserCreated = "USER_CREATED"
	ActionUserUpdated = "USER_UPDATED"
	ActionUserDeleted = "USER_DELETED"

	ActionViewOverview     = "VIEW_OVERVIEW"
	ActionViewJobs         = "VIEW_JOBS"
	ActionViewJob          = "VIEW_JOB"
	ActionViewJobDetail    = "VIEW_JOB_DETAIL"
	ActionViewApplication  = "VIEW_APPLICATION"
	ActionViewApplications = "VIEW_APPLICATIONS"
	ActionViewUsers        = "VIEW_USERS"
	ActionViewUser         = "VIEW_USER"

	statusDeleted = "DELETED"
)

func (s *Service) Overview(ctx context.Context) (Result[models.Overview], error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return Result[models.Overview]{}, err
	}
	var jobs []models.Job
	var users []models.User
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		jobs, err = s.jobs.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		users, err = s.users.List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result[models.Overview]{}, err
	}

	out := models.Overview{
		TotalJobs:    len(jobs),
		JobsByStatus: make(map[string]int),
		TotalUsers:   len(users),
		UsersByRole:  make(map[string]int),
	}
	for _, j := range jobs {
		status := string(j.Status)
		if status == "" {
			status = string(workflow.JobOpen)
		}
		out.JobsByStatus[status]++
	}
	for _, u := range users {
		out.UsersByRole[u.Role]++
	}
	return withEvent(s.audit(ctx, actor, ActionViewOverview, "overview"), out), nil
}

func (s *Service) ListJobs(ctx context.Context) (Result[[]models.Job], error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return Result[[]models.Job]{}, err
	}
	jobs, err := s.jobs.List(ctx)
	if err != nil {
		return Result[[]models.Job]{}, err
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	return withEvent(s.audit(ctx, actor, ActionViewJobs, "jobs"), jobs), nil
}

func (s *Service) GetJob(ctx context.Context, rawID string) (Result[models.Job], error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return Result[models.Job]{}, err
	}
	id, err := parseID("id", rawID)
	if err != nil {
		return Result[models.Job]{}, err
	}
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return Result[models.Job]{}, err
	}
	return withEvent(s.audit(ctx, actor, ActionViewJob, idString(id)), job), nil
}

// GetJobDetail reads the job and its applications concurrently.
func (s *Service) GetJobDetail(ctx context.Context, rawID string) (Result[models.JobDetail], error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return Result[models.JobDetail]{}, err
	}
	id, err := parseID("id", rawID)
	if err != nil {
		return Result[models.JobDetail]{}, err
	}
	var detail models.JobDetail
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		detail.Job, err = s.jobs.Get(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		detail.Applications, err = s.apps.ListForJob(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result[models.JobDetail]{}, err
	}
	if detail.Applications == nil {
		detail.Applications = []models.JobApplication{}
	}
	return withEvent(s.audit(ctx, actor, ActionViewJobDetail, idString(id)), detail), nil
}

func (s *Service) CreateJob(ctx context.Context, job models.Job, rawCompanyID string) (Result[models.Job], error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return Result[models.Job]{}, err
	}
	companyID, err := parseID("companyId", rawCompanyID)
	if err != nil {
		return Result[models.Job]{}, err
	}
	if err := s.validate.Struct(job); err != nil {
		return Result[models.Job]{}, validationError(err)
	}
	if job.Status != "" {
		if job.Status, err = workflow.ParseJobStatus(string(job.Status)); err != nil {
			return Result[models.Job]{}, apperr.Wrap(err, apperr.InvalidRequest, "status is invalid")
		}
	}
	job.ID = 0
	job.CompanyID = companyID
	wctx, err := detach(ctx)
	if err != nil {
		return Result[models.Job]{}, err
	}

	created, err := s.jobs.Create(wctx, job, companyID)
	if err != nil {
		return Result[models.Job]{}, err
	}
	ev := events.ActivityEvent{
		EventType:      events.TypeJobUpdate,
		ActorID:        actor,
		Action:         ActionJobCreated,
		TargetResource: idString(created.ID),
		Status:         jobStatus(created.Status),
	}
	return withEvent(s.emit(wctx, ev), created), nil
}

// UpdateJob merges patch into the stored job. Omitted fields keep their values.
func (s *Service) UpdateJob(ctx context.Context, rawID string, patch models.JobPatch) (Result[models.Job], error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return Result[models.Job]{}, err
	}
	id, err := parseID("id", rawID)
	if err != nil {
		return Result[models.Job]{}, err
	}
	if err := s.validate.Struct(patch); err != nil {
		return Result[models.Job]{}, validationError(err)
	}
	if patch.Status != nil {
		status, err := workflow.ParseJobStatus(string(*patch.Status))
		if err != nil {
			return Result[models.Job]{}, apperr.Wrap(err, apperr.InvalidRequest, "status is invalid")
		}
		patch.Status = &status
	}
	updated, err := s.mergeJob(ctx, id, patch.Apply)
	if err != nil {
		return Result[models.Job]{}, err
	}
	ev := events.ActivityEvent{
		EventType:      events.TypeJobUpdate,
		ActorID:        actor,
		Action:         ActionJobUpdated,
		TargetResource: idString(id),
		Status:         jobStatus(updated.Status),
	}
	return withEvent(s.emit(ctx, ev), updated), nil
}

func (s *Service) ApproveJob(ctx context.Context, rawID string) (Result[models.Job], error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return Result[models.Job]{}, err
	}
	id, err := parseID("id", rawID)
	if err != nil {
		return Result[models.Job]{}, err
	}
	updated, err := s.mergeJob(ctx, id, func(j models.Job) models.Job {
		j.Status = workflow.JobApproved
		return j
	})
	if err != nil {
		return Result[models.Job]{}, err
	}
	ev := events.ActivityEvent{
		EventType:      events.TypeJobUpdate,
		ActorID:        actor,
		Action:         ActionJobApproved,
		TargetResource: idString(id),
		Status:         string(workflow.JobApproved),
	}
	return withEvent(s.emit(ctx, ev), updated), nil
}

func (s *Service) DeleteJob(ctx context.Context, rawID string) (Result[struct{}], error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return Result[struct{}]{}, err
	}
	id, err := parseID("id", rawID)
	if err != nil {
		return Result[struct{}]{}, err
	}
	wctx, err := detach(ctx)
	if err != nil {
		return Result[struct{}]{}, err
	}
	if err := s.jobs.Delete(wctx, id); err != nil {
		return Result[struct{}]{}, err
	}
	ev := events.ActivityEvent{
		EventType:      events.TypeJobUpdate,
		ActorID:        actor,
		Action:         ActionJobDeleted,
		TargetResource: idString(id),
		Status:         statusDeleted,
	}
	return withEvent(s.emit(wctx, ev), struct{}{}), nil
}

// mergeJob reads the stored job, applies merge and writes the whole record back.
// Upstream offers no version check, so a write between the Get and the Update
// is overwritten.
func (s *Service) mergeJob(ctx context.Context, id int64, merge func(models.Job) models.Job) (models.Job, error) {
	current, err := s.jobs.Get(ctx, id)
	if err != nil {
		return models.Job{}, err
	}
	next := merge(current)
	next.ID = id
	wctx, err := detach(ctx)
	if err != nil {
		return models.Job{}, err
	}
	return s.jobs.Update(wctx, id, next)
}

func (s *Service) GetApplication(ctx context.Context, rawID string) (Result[models.JobApplication], error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return Result[models.JobApplication]{}, err
	}
	id, err := parseID("id", rawID)
	if err != nil {
		return Result[models.JobApplication]{}, err
	}
	app, err := s.apps.Get(ctx, id)
	if err != nil {
		return Result[models.JobApplication]{}, err
	}
	return withEvent(s.audit(ctx, actor, ActionViewApplication, idString(id)), app), nil
}

// ListApplications filters by exactly one of job id or user id.
func (s *Service) ListApplications(ctx context.Context, rawJobID string, rawUserID string) (Result[[]models.JobApplication], error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return Result[[]models.JobApplication]{}, err
	}
	if (rawJobID == "") == (rawUserID == "") {
		return Result[[]models.JobApplication]{}, apperr.New(apperr.InvalidRequest, "exactly one of jobId or userId is required")
	}
	var (
		apps   []models.JobApplication
		target string
	)
	if rawJobID != "" {
		jobID, err := parseID("jobId", rawJobID)
		if err != nil {
			return Result[[]models.JobApplication]{}, err
		}
		apps, err = s.apps.ListForJob(ctx, jobID)
		if err != nil {
			return Result[[]models.JobApplication]{}, err
		}
		target = "job:" + idString(jobID)
	} else {
		userID, err := parseID("userId", rawUserID)
		if err != nil {
			return Result[[]models.JobApplication]{}, err
		}
		apps, err = s.apps.ListForUser(ctx, userID)
		if err != nil {
			return Result[[]models.JobApplication]{}, err
		}
		target = "user:" + idString(userID)
	}
	if apps == nil {
		apps = []models.JobApplication{}
	}
	return withEvent(s.audit(ctx, actor, ActionViewApplications, target), apps), nil
}

func (s *Service) UpdateApplicationStatus(ctx context.Context, rawID string, rawStatus string) (Result[models.JobApplication], error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return Result[models.JobApplication]{}, err
	}
	id, err := parseID("id", rawID)
	if err != nil {
		return Result[models.JobApplication]{}, err
	}
	status, err := workflow.ParseApplicationStatus(rawStatus)
	if err != nil {
		return Result[models.JobApplication]{}, apperr.Wrap(err, apperr.InvalidRequest, "status must be one of APPLIED, PENDING, UNDER_REVIEW, INTERVIEW_SCHEDULED, ACCEPTED, REJECTED")
	}
	wctx, err := detach(ctx)
	if err != nil {
		return Result[models.JobApplication]{}, err
	}
	app, err := s.apps.UpdateStatus(wctx, id, status)
	if err != nil {
		return Result[models.JobApplication]{}, err
	}
	if app.ID == 0 {
		app.ID = id
	}
	if app.ApplicationStatus == "" {
		app.ApplicationStatus = status
	}
	ev := events.ActivityEvent{
		EventType:      events.TypeApplicationStatus,
		ActorID:        actor,
		Action:         ActionStatusChange,
		TargetResource: idString(id),
		Status:         string(status),
	}
	return withEvent(s.emit(wctx, ev), app), nil
}

func (s *Service) ListUsers(ctx context.Context) (Result[[]models.User], error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return Result[[]models.User]{}, err
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return Result[[]models.User]{}, err
	}
	if users == nil {
		users = []models.User{}
	}
	return withEvent(s.audit(ctx, actor, ActionViewUsers, "users"), users), nil
}

func (s *Service) GetUser(ctx context.Context, rawID string) (Result[models.User], error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return Result[models.User]{}, err
	}
	id, err := parseID("id", rawID)
	if err != nil {
		return Result[models.User]{}, err
	}
	user, err := s.users.Get(ctx, id)
	if err != nil {
		return Result[models.User]{}, err
	}
	return withEvent(s.audit(ctx, actor, ActionViewUser, idString(id)), user), nil
}

func (s *Service) CreateUser(ctx context.Context, user models.NewUser) (Result[models.User], error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return Result[models.User]{}, err
	}
	if err := s.validate.Struct(user); err != nil {
		return Result[models.User]{}, validationError(err)
	}
	wctx, err := detach(ctx)
	if err != nil {
		return Result[models.User]{}, err
	}
	created, err := s.users.Create(wctx, user)
	if err != nil {
		return Result[models.User]{}, err
	}
	ev := events.ActivityEvent{
		EventType:      events.TypeUserActivity,
		ActorID:        actor,
		Action:         ActionUserCreated,
		TargetResource: idString(created.ID),
		Status:         events.StatusLogged,
	}
	return withEvent(s.emit(wctx, ev), created), nil
}

// UpdateUser merges patch into the stored profile. Omitted fields keep their values.
func (s *Service) UpdateUser(ctx context.Context, rawID string, patch models.UserPatch) (Result[models.User], error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return Result[models.User]{}, err
	}
	id, err := parseID("id", rawID)
	if err != nil {
		return Result[models.User]{}, err
	}
	if err := s.validate.Struct(patch); err != nil {
		return Result[models.User]{}, validationError(err)
	}
	current, err := s.users.Get(ctx, id)
	if err != nil {
		return Result[models.User]{}, err
	}
	next := patch.Apply(current)
	next.ID = id
	wctx, err := detach(ctx)
	if err != nil {
		return Result[models.User]{}, err
	}
	updated, err := s.users.Update(wctx, id, next)
	if err != nil {
		return Result[models.User]{}, err
	}
	ev := events.ActivityEvent{
		EventType:      events.TypeUserActivity,
		ActorID:        actor,
		Action:         ActionUserUpdated,
		TargetResource: idString(id),
		Status:         events.StatusLogged,
	}
	return withEvent(s.emit(wctx, ev), updated), nil
}

func (s *Service) DeleteUser(ctx context.Context, rawID string) (Result[struct{}], error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return Result[struct{}]{}, err
	}
	id, err := parseID("id", rawID)
	if err != nil {
		return Result[struct{}]{}, err
	}
	wctx, err := detach(ctx)
	if err != nil {
		return Result[struct{}]{}, err
	}
	if err := s.users.Delete(wctx, id); err != nil {
		return Result[struct{}]{}, err
	}
	ev := events.ActivityEvent{
		EventType:      events.TypeUserActivity,
		ActorID:        actor,
		Action:         ActionUserDeleted,
		TargetResource: idString(id),
		Status:         statusDeleted,
	}
	return withEvent(s.emit(wctx, ev), struct{}{}), nil
}

// detach gates a write on the request still being live and returns the
// context the write and its event run on. Once started, the write is not
// cut short by the caller going away; the call timeout still bounds it.
func detach(ctx context.Context) (context.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.UpstreamUnavailable, "request cancelled")
	}
	return context.WithoutCancel(ctx), nil
}

// actor returns the id recorded on events for the authenticated caller.
func (s *Service) actor(ctx context.Context) (string, error) {
	id, ok := authx.FromContext(ctx)
	if !ok || id.Subject == "" {
		return "", apperr.New(apperr.Unauthorized, "authentication required")
	}
	if id.UserID != "" {
		return id.UserID, nil
	}
	return id.Subject, nil
}

func (s *Service) audit(ctx context.Context, actor string, action string, resource string) []apperr.Warning {
	return s.emit(ctx, events.ActivityEvent{
		EventType:      events.TypeAuditLog,
		ActorID:        actor,
		Action:         action,
		TargetResource: resource,
		Status:         events.StatusLogged,
	})
}

// emit publishes ev after the operation succeeded. A failed publish becomes a
// warning and never changes the operation result.
func (s *Service) emit(ctx context.Context, ev events.ActivityEvent) []apperr.Warning {
	if s.publisher == nil {
		return nil
	}
	published, err := s.publisher.Publish(ctx, ev)
	if err == nil {
		s.logger.Debug(ctx, "activity_event_emitted", "activity event published",
			slog.String("event_id", published.EventID),
			slog.String("event_type", string(published.EventType)),
			slog.String("action", published.Action),
		)
		return nil
	}
	var w interface{ Warning() apperr.Warning }
	if errors.As(err, &w) {
		return []apperr.Warning{w.Warning()}
	}
	return []apperr.Warning{{
		Code:    apperr.PublishFailed,
		Message: "activity event could not be published",
		EventID: published.EventID,
	}}
}

func withEvent[T any](warnings []apperr.Warning, data T) Result[T] {
	return Result[T]{Data: data, Warnings: warnings}
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

func jobStatus(s workflow.JobStatus) string {
	if s == "" {
		return string(workflow.JobOpen)
	}
	return string(s)
}
