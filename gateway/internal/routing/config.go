package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"jobportal-admin/shared/apperr"
	"jobportal-admin/shared/config"
)

type Service string

const (
	ServiceJobs         Service = "JOB-SERVICE"
	ServiceUsers        Service = "USER-SERVICE"
	ServiceApplications Service = "JOB-APPLICATION-SERVICE"
)

type Operation string

const (
	OpListJobs                Operation = "listJobs"
	OpGetJob                  Operation = "getJob"
	OpCreateJob               Operation = "createJob"
	OpUpdateJob               Operation = "updateJob"
	OpDeleteJob               Operation = "deleteJob"
	OpListUsers               Operation = "listUsers"
	OpGetUser                 Operation = "getUser"
	OpCreateUser              Operation = "createUser"
	OpUpdateUser              Operation = "updateUser"
	OpDeleteUser              Operation = "deleteUser"
	OpGetApplication          Operation = "getApplication"
	OpListApplicationsForJob  Operation = "listApplicationsForJob"
	OpListApplicationsForUser Operation = "listApplicationsForUser"
	OpUpdateApplicationStatus Operation = "updateApplicationStatus"
)

var (
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrUnknownOperation   = errors.New("unknown operation")
)

// Endpoint is a path template. {name} segments are filled from call params
// and every name in Query becomes a required query parameter.
type Endpoint struct {
	Method string   `json:"method"`
	Path   string   `json:"path"`
	Query  []string `json:"query,omitempty"`
}

type ServiceConfig struct {
	BaseURLs  []string               `json:"base_urls"`
	TimeoutMS int                    `json:"timeout_ms"`
	Endpoints map[Operation]Endpoint `json:"endpoints,omitempty"`
}

// Config lists upstream services only. Every event goes to the one shared
// topic set by KAFKA_TOPIC, which is also the topic the dispatcher reads.
type Config struct {
	Services map[Service]ServiceConfig `json:"services"`
}

// CallDescriptor is everything an adapter needs to perform one upstream call.
type CallDescriptor struct {
	Service   Service
	Operation Operation
	Method    string
	URL       string
	Timeout   time.Duration
}

// Catalog lists the operations each service supports with their default endpoints.
var Catalog = map[Service]map[Operation]Endpoint{
	ServiceJobs: {
		OpListJobs:  {Method: http.MethodGet, Path: "api/jobs"},
		OpGetJob:    {Method: http.MethodGet, Path: "api/jobs/{id}"},
		OpCreateJob: {Method: http.MethodPost, Path: "api/admin/jobs", Query: []string{"companyId"}},
		OpUpdateJob: {Method: http.MethodPut, Path: "api/admin/jobs/{id}"},
		OpDeleteJob: {Method: http.MethodDelete, Path: "api/admin/jobs/{id}"},
	},
	ServiceUsers: {
		OpListUsers:  {Method: http.MethodGet, Path: "api/users"},
		OpGetUser:    {Method: http.MethodGet, Path: "api/users/profile/{id}"},
		OpCreateUser: {Method: http.MethodPost, Path: "api/users"},
		OpUpdateUser: {Method: http.MethodPut, Path: "api/users/{id}"},
		OpDeleteUser: {Method: http.MethodDelete, Path: "api/users/{id}"},
	},
	ServiceApplications: {
		OpGetApplication:          {Method: http.MethodGet, Path: "api/job_applications/{id}"},
		OpListApplicationsForJob:  {Method: http.MethodGet, Path: "api/job_applications/job", Query: []string{"jobId"}},
		OpListApplicationsForUser: {Method: http.MethodGet, Path: "api/job_applications/user", Query: []string{"userId"}},
		OpUpdateApplicationStatus: {Method: http.MethodPut, Path: "api/admin/job_applications/{id}/status", Query: []string{"status"}},
	},
}

type serviceEntry struct {
	baseURLs  []string
	timeout   time.Duration
	endpoints map[Operation]Endpoint
	next      atomic.Uint64
}

// Directory resolves logical service names to call descriptors. It is
// read-only after construction and safe for concurrent use.
type Directory struct {
	Config   Config
	services map[Service]*serviceEntry
}

func Load(path string, defaultTimeout time.Duration) (*Directory, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("directory config path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse directory config: %w", err)
	}
	return New(cfg, defaultTimeout)
}

func New(cfg Config, defaultTimeout time.Duration) (*Directory, error) {
	if defaultTimeout <= 0 {
		defaultTimeout = 3 * time.Second
	}
	services := make(map[Service]*serviceEntry, len(cfg.Services))
	for name, sc := range cfg.Services {
		catalog, ok := Catalog[name]
		if !ok {
			return nil, fmt.Errorf("directory lists unknown service %q", name)
		}
		bases := make([]string, 0, len(sc.BaseURLs))
		for _, raw := range sc.BaseURLs {
			raw = strings.TrimSpace(raw)
			u, err := url.Parse(raw)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return nil, fmt.Errorf("service %q has invalid base url %q", name, raw)
			}
			bases = append(bases, strings.TrimRight(raw, "/"))
		}
		endpoints := make(map[Operation]Endpoint, len(catalog))
		for op, ep := range catalog {
			endpoints[op] = ep
		}
		for op, ep := range sc.Endpoints {
			if _, ok := catalog[op]; !ok {
				return nil, fmt.Errorf("service %q overrides unknown operation %q", name, op)
			}
			if ep.Method == "" || ep.Path == "" {
				return nil, fmt.Errorf("override %s.%s needs method and path", name, op)
			}
			ep.Method = strings.ToUpper(ep.Method)
			endpoints[op] = ep
		}
		timeout := defaultTimeout
		if sc.TimeoutMS > 0 {
			timeout = time.Duration(sc.TimeoutMS) * time.Millisecond
		}
		services[name] = &serviceEntry{baseURLs: bases, timeout: timeout, endpoints: endpoints}
	}
	return &Directory{Config: cfg, services: services}, nil
}

// Describe builds the call descriptor for op on service. Base URLs rotate
// round-robin across calls.
func (d *Directory) Describe(service Service, op Operation, params map[string]string) (CallDescriptor, error) {
	var entry *serviceEntry
	if d != nil {
		entry = d.services[service]
	}
	if entry == nil || len(entry.baseURLs) == 0 {
		return CallDescriptor{}, apperr.Wrap(fmt.Errorf("%w: %s", ErrServiceUnavailable, service), apperr.ServiceUnavailable,
			fmt.Sprintf("%s is not available", strings.ToLower(string(service))))
	}
	ep, ok := entry.endpoints[op]
	if !ok {
		return CallDescriptor{}, apperr.Wrap(fmt.Errorf("%w: %s.%s", ErrUnknownOperation, service, op), apperr.Internal, "unsupported operation")
	}
	target, err := expand(ep, params)
	if err != nil {
		return CallDescriptor{}, apperr.Wrap(err, apperr.InvalidRequest, err.Error())
	}
	base := entry.baseURLs[(entry.next.Add(1)-1)%uint64(len(entry.baseURLs))]
	return CallDescriptor{
		Service:   service,
		Operation: op,
		Method:    ep.Method,
		URL:       base + "/" + strings.TrimLeft(target, "/"),
		Timeout:   entry.timeout,
	}, nil
}

func expand(ep Endpoint, params map[string]string) (string, error) {
	var b strings.Builder
	rest := ep.Path
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("malformed path template %q", ep.Path)
		}
		name := rest[open+1 : open+end]
		v, ok := params[name]
		if !ok || v == "" {
			return "", fmt.Errorf("%s is required", name)
		}
		b.WriteString(rest[:open])
		b.WriteString(url.PathEscape(v))
		rest = rest[open+end+1:]
	}
	if len(ep.Query) == 0 {
		return b.String(), nil
	}
	q := url.Values{}
	for _, name := range ep.Query {
		v, ok := params[name]
		if !ok || v == "" {
			return "", fmt.Errorf("%s is required", name)
		}
		q.Set(name, v)
	}
	return b.String() + "?" + q.Encode(), nil
}

func DefaultDirectoryPath(env string) (string, error) {
	root, ok := config.FindRepoRoot()
	if !ok {
		return "", errors.New("repo root not found")
	}
	if strings.TrimSpace(env) == "" {
		env = "dev"
	}
	return filepath.Join(root, "configs", env+".directory.json"), nil
}
