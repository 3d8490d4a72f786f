package upstream

import (
	"context"
	"strconv"

	"jobportal-admin/gateway/internal/models"
	"jobportal-admin/gateway/internal/routing"
	"jobportal-admin/shared/workflow"
)

func idParam(id int64) map[string]string {
	return map[string]string{"id": strconv.FormatInt(id, 10)}
}

type JobsClient struct {
	caller Caller
}

func NewJobsClient(caller Caller) *JobsClient {
	return &JobsClient{caller: caller}
}

func (c *JobsClient) List(ctx context.Context) ([]models.Job, error) {
	var out []models.Job
	err := c.caller.Call(ctx, routing.ServiceJobs, routing.OpListJobs, nil, nil, &out)
	return out, err
}

func (c *JobsClient) Get(ctx context.Context, id int64) (models.Job, error) {
	var out models.Job
	err := c.caller.Call(ctx, routing.ServiceJobs, routing.OpGetJob, idParam(id), nil, &out)
	return out, err
}

func (c *JobsClient) Create(ctx context.Context, job models.Job, companyID int64) (models.Job, error) {
	var out models.Job
	params := map[string]string{"companyId": strconv.FormatInt(companyID, 10)}
	err := c.caller.Call(ctx, routing.ServiceJobs, routing.OpCreateJob, params, job, &out)
	return out, err
}

func (c *JobsClient) Update(ctx context.Context, id int64, job models.Job) (models.Job, error) {
	out := job
	err := c.caller.Call(ctx, routing.ServiceJobs, routing.OpUpdateJob, idParam(id), job, &out)
	return out, err
}

func (c *JobsClient) Delete(ctx context.Context, id int64) error {
	return c.caller.Call(ctx, routing.ServiceJobs, routing.OpDeleteJob, idParam(id), nil, nil)
}

type UsersClient struct {
	caller Caller
}

func NewUsersClient(caller Caller) *UsersClient {
	return &UsersClient{caller: caller}
}

func (c *UsersClient) List(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := c.caller.Call(ctx, routing.ServiceUsers, routing.OpListUsers, nil, nil, &out)
	return out, err
}

func (c *UsersClient) Get(ctx context.Context, id int64) (models.User, error) {
	var out models.User
	err := c.caller.Call(ctx, routing.ServiceUsers, routing.OpGetUser, idParam(id), nil, &out)
	return out, err
}

func (c *UsersClient) Create(ctx context.Context, user models.NewUser) (models.User, error) {
	var out models.User
	err := c.caller.Call(ctx, routing.ServiceUsers, routing.OpCreateUser, nil, user, &out)
	return out, err
}

func (c *UsersClient) Update(ctx context.Context, id int64, user models.User) (models.User, error) {
	out := user
	err := c.caller.Call(ctx, routing.ServiceUsers, routing.OpUpdateUser, idParam(id), user, &out)
	return out, err
}

func (c *UsersClient) Delete(ctx context.Context, id int64) error {
	return c.caller.Call(ctx, routing.ServiceUsers, routing.OpDeleteUser, idParam(id), nil, nil)
}

type ApplicationsClient struct {
	caller Caller
}

func NewApplicationsClient(caller Caller) *ApplicationsClient {
	return &ApplicationsClient{caller: caller}
}

func (c *ApplicationsClient) Get(ctx context.Context, id int64) (models.JobApplication, error) {
	var out models.JobApplication
	err := c.caller.Call(ctx, routing.ServiceApplications, routing.OpGetApplication, idParam(id), nil, &out)
	return out, err
}

func (c *ApplicationsClient) ListForJob(ctx context.Context, jobID int64) ([]models.JobApplication, error) {
	var out []models.JobApplication
	params := map[string]string{"jobId": strconv.FormatInt(jobID, 10)}
	err := c.caller.Call(ctx, routing.ServiceApplications, routing.OpListApplicationsForJob, params, nil, &out)
	return out, err
}

func (c *ApplicationsClient) ListForUser(ctx context.Context, userID int64) ([]models.JobApplication, error) {
	var out []models.JobApplication
	params := map[string]string{"userId": strconv.FormatInt(userID, 10)}
	err := c.caller.Call(ctx, routing.ServiceApplications, routing.OpListApplicationsForUser, params, nil, &out)
	return out, err
}

func (c *ApplicationsClient) UpdateStatus(ctx context.Context, id int64, status workflow.ApplicationStatus) (models.JobApplication, error) {
	var out models.JobApplication
	params := map[string]string{"id": strconv.FormatInt(id, 10), "status": string(status)}
	err := c.caller.Call(ctx, routing.ServiceApplications, routing.OpUpdateApplicationStatus, params, nil, &out)
	return out, err
}
