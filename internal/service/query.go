package service

import (
	"strings"

	"media-queue/internal/domain"
)

// Criteria narrows a job listing. Zero-valued fields match everything.
type Criteria struct {
	Statuses []domain.JobStatus
	Text     string
	Platform string
	Kind     domain.JobKind
}

type Stats struct {
	Total    int                      `json:"total"`
	ByStatus map[domain.JobStatus]int `json:"byStatus"`
}

type jobLister interface {
	List() []domain.Job
}

// Query serves read-only views over a JobStore.
type Query struct {
	source jobLister
}

func NewQuery(source jobLister) *Query {
	return &Query{source: source}
}

func (q *Query) Filter(c Criteria) []domain.Job {
	return FilterJobs(q.source.List(), c)
}

func (q *Query) Stats() Stats {
	return ComputeStats(q.source.List())
}

// FilterJobs returns the jobs matching c in their original order.
func FilterJobs(jobs []domain.Job, c Criteria) []domain.Job {
	text := strings.ToLower(strings.TrimSpace(c.Text))
	out := make([]domain.Job, 0, len(jobs))
	for _, job := range jobs {
		if len(c.Statuses) > 0 && !containsStatus(c.Statuses, job.Status) {
			continue
		}
		if c.Platform != "" && !strings.EqualFold(c.Platform, job.Platform) {
			continue
		}
		if c.Kind != "" && c.Kind != job.Kind {
			continue
		}
		if text != "" && !strings.Contains(strings.ToLower(job.Title), text) {
			continue
		}
		out = append(out, job)
	}
	return out
}

// ComputeStats counts jobs per status. Every status has an entry.
func ComputeStats(jobs []domain.Job) Stats {
	st := Stats{Total: len(jobs), ByStatus: make(map[domain.JobStatus]int, len(domain.AllStatuses))}
	for _, s := range domain.AllStatuses {
		st.ByStatus[s] = 0
	}
	for _, job := range jobs {
		st.ByStatus[job.Status]++
	}
	return st
}

func containsStatus(list []domain.JobStatus, s domain.JobStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
