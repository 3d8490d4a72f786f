package models

import (
	"jobportal-admin/shared/workflow"
)

// Job mirrors the job service representation.
type Job struct {
	ID          int64              `json:"id,omitempty"`
	Title       string             `json:"title" validate:"required"`
	Description string             `json:"description,omitempty"`
	CompanyID   int64              `json:"companyId,omitempty"`
	CompanyName string             `json:"companyName,omitempty"`
	Location    string             `json:"location,omitempty"`
	JobType     string             `json:"jobType,omitempty"`
	SalaryRange string             `json:"salaryRange,omitempty"`
	Status      workflow.JobStatus `json:"status,omitempty"`
}

// JobPatch carries only the fields an admin sent. Nil means keep the stored value.
type JobPatch struct {
	Title       *string             `json:"title,omitempty" validate:"omitempty,min=1"`
	Description *string             `json:"description,omitempty"`
	CompanyName *string             `json:"companyName,omitempty"`
	Location    *string             `json:"location,omitempty"`
	JobType     *string             `json:"jobType,omitempty"`
	SalaryRange *string             `json:"salaryRange,omitempty"`
	Status      *workflow.JobStatus `json:"status,omitempty"`
}

func (p JobPatch) Apply(j Job) Job {
	setString(&j.Title, p.Title)
	setString(&j.Description, p.Description)
	setString(&j.CompanyName, p.CompanyName)
	setString(&j.Location, p.Location)
	setString(&j.JobType, p.JobType)
	setString(&j.SalaryRange, p.SalaryRange)
	if p.Status != nil {
		j.Status = *p.Status
	}
	return j
}

// User mirrors the user service profile. The password never leaves the user service.
type User struct {
	ID           int64    `json:"id,omitempty"`
	FullName     string   `json:"fullName"`
	EmailID      string   `json:"emailId"`
	Role         string   `json:"role,omitempty"`
	Skills       []string `json:"skills,omitempty"`
	Resume       string   `json:"resume,omitempty"`
	ProfilePhoto string   `json:"profilePhoto,omitempty"`
}

type UserPatch struct {
	FullName     *string   `json:"fullName,omitempty" validate:"omitempty,min=1"`
	EmailID      *string   `json:"emailId,omitempty" validate:"omitempty,email"`
	Role         *string   `json:"role,omitempty"`
	Skills       *[]string `json:"skills,omitempty"`
	Resume       *string   `json:"resume,omitempty"`
	ProfilePhoto *string   `json:"profilePhoto,omitempty"`
}

func (p UserPatch) Apply(u User) User {
	setString(&u.FullName, p.FullName)
	setString(&u.EmailID, p.EmailID)
	setString(&u.Role, p.Role)
	setString(&u.Resume, p.Resume)
	setString(&u.ProfilePhoto, p.ProfilePhoto)
	if p.Skills != nil {
		u.Skills = append([]string(nil), (*p.Skills)...)
	}
	return u
}

// NewUser is the registration payload forwarded to the user service.
type NewUser struct {
	FullName string   `json:"fullName" validate:"required"`
	EmailID  string   `json:"emailId" validate:"required,email"`
	Password string   `json:"password" validate:"required,min=8"`
	Role     string   `json:"role" validate:"required"`
	Skills   []string `json:"skills,omitempty"`
}

type JobApplication struct {
	ID                int64                      `json:"id"`
	JobID             int64                      `json:"jobId"`
	ApplicantID       int64                      `json:"applicantId"`
	ApplicationStatus workflow.ApplicationStatus `json:"applicationStatus"`
	CoverLetter       string                     `json:"coverLetter,omitempty"`
	AppliedDate       string                     `json:"appliedDate,omitempty"`
}

// JobDetail combines a job with the applications filed against it.
type JobDetail struct {
	Job          Job              `json:"job"`
	Applications []JobApplication `json:"applications"`
}

type Overview struct {
	TotalJobs    int            `json:"totalJobs"`
	JobsByStatus map[string]int `json:"jobsByStatus"`
	TotalUsers   int            `json:"totalUsers"`
	UsersByRole  map[string]int `json:"usersByRole"`
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
