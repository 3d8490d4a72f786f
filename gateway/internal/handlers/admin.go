package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"jobportal-admin/gateway/internal/admin"
	"jobportal-admin/gateway/internal/models"
	"jobportal-admin/shared/apperr"
	"jobportal-admin/shared/httpx"
)

const Prefix = "/api/v1/admin"

type AdminHandler struct {
	Service *admin.Service
}

type statusUpdateRequest struct {
	Status string `json:"status"`
}

// Register mounts the admin surface on mux under Prefix.
func (h AdminHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+Prefix+"/overview", func(w http.ResponseWriter, r *http.Request) {
		res, err := h.Service.Overview(r.Context())
		writeResult(w, r, http.StatusOK, res, err)
	})

	mux.HandleFunc("GET "+Prefix+"/jobs", func(w http.ResponseWriter, r *http.Request) {
		res, err := h.Service.ListJobs(r.Context())
		writeResult(w, r, http.StatusOK, res, err)
	})
	mux.HandleFunc("POST "+Prefix+"/jobs", func(w http.ResponseWriter, r *http.Request) {
		var job models.Job
		if err := httpx.DecodeJSON(r, &job); err != nil {
			httpx.WriteAppError(w, r, err)
			return
		}
		companyID := r.URL.Query().Get("companyId")
		if companyID == "" && job.CompanyID > 0 {
			companyID = formatID(job.CompanyID)
		}
		res, err := h.Service.CreateJob(r.Context(), job, companyID)
		writeResult(w, r, http.StatusCreated, res, err)
	})
	mux.HandleFunc("GET "+Prefix+"/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		res, err := h.Service.GetJob(r.Context(), r.PathValue("id"))
		writeResult(w, r, http.StatusOK, res, err)
	})
	mux.HandleFunc("GET "+Prefix+"/jobs/{id}/detail", func(w http.ResponseWriter, r *http.Request) {
		res, err := h.Service.GetJobDetail(r.Context(), r.PathValue("id"))
		writeResult(w, r, http.StatusOK, res, err)
	})
	mux.HandleFunc("PUT "+Prefix+"/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		var patch models.JobPatch
		if err := httpx.DecodeJSON(r, &patch); err != nil {
			httpx.WriteAppError(w, r, err)
			return
		}
		res, err := h.Service.UpdateJob(r.Context(), r.PathValue("id"), patch)
		writeResult(w, r, http.StatusOK, res, err)
	})
	mux.HandleFunc("POST "+Prefix+"/jobs/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
		res, err := h.Service.ApproveJob(r.Context(), r.PathValue("id"))
		writeResult(w, r, http.StatusOK, res, err)
	})
	mux.HandleFunc("DELETE "+Prefix+"/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		res, err := h.Service.DeleteJob(r.Context(), r.PathValue("id"))
		writeEmpty(w, r, res, err)
	})

	mux.HandleFunc("GET "+Prefix+"/applications", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res, err := h.Service.ListApplications(r.Context(), q.Get("jobId"), q.Get("userId"))
		writeResult(w, r, http.StatusOK, res, err)
	})
	mux.HandleFunc("GET "+Prefix+"/applications/{id}", func(w http.ResponseWriter, r *http.Request) {
		res, err := h.Service.GetApplication(r.Context(), r.PathValue("id"))
		writeResult(w, r, http.StatusOK, res, err)
	})
	mux.HandleFunc("PUT "+Prefix+"/applications/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		status := strings.TrimSpace(r.URL.Query().Get("status"))
		if status == "" {
			var req statusUpdateRequest
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.WriteAppError(w, r, apperr.New(apperr.InvalidRequest, "status is required"))
				return
			}
			status = req.Status
		}
		res, err := h.Service.UpdateApplicationStatus(r.Context(), r.PathValue("id"), status)
		writeResult(w, r, http.StatusOK, res, err)
	})

	mux.HandleFunc("GET "+Prefix+"/users", func(w http.ResponseWriter, r *http.Request) {
		res, err := h.Service.ListUsers(r.Context())
		writeResult(w, r, http.StatusOK, res, err)
	})
	mux.HandleFunc("POST "+Prefix+"/users", func(w http.ResponseWriter, r *http.Request) {
		var user models.NewUser
		if err := httpx.DecodeJSON(r, &user); err != nil {
			httpx.WriteAppError(w, r, err)
			return
		}
		res, err := h.Service.CreateUser(r.Context(), user)
		writeResult(w, r, http.StatusCreated, res, err)
	})
	mux.HandleFunc("GET "+Prefix+"/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		res, err := h.Service.GetUser(r.Context(), r.PathValue("id"))
		writeResult(w, r, http.StatusOK, res, err)
	})
	mux.HandleFunc("PUT "+Prefix+"/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		var patch models.UserPatch
		if err := httpx.DecodeJSON(r, &patch); err != nil {
			httpx.WriteAppError(w, r, err)
			return
		}
		res, err := h.Service.UpdateUser(r.Context(), r.PathValue("id"), patch)
		writeResult(w, r, http.StatusOK, res, err)
	})
	mux.HandleFunc("DELETE "+Prefix+"/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		res, err := h.Service.DeleteUser(r.Context(), r.PathValue("id"))
		writeEmpty(w, r, res, err)
	})
}

func writeResult[T any](w http.ResponseWriter, r *http.Request, status int, res admin.Result[T], err error) {
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	httpx.WriteData(w, status, res.Data, res.Warnings)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func writeEmpty(w http.ResponseWriter, r *http.Request, res admin.Result[struct{}], err error) {
	if err != nil {
		httpx.WriteAppError(w, r, err)
		return
	}
	if len(res.Warnings) > 0 {
		httpx.WriteData(w, http.StatusOK, nil, res.Warnings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
