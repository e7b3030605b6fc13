package tracker

import (
	"github.com/JakeFAU/realtime-task-progress/internal/element"
)

// Default element id prefixes; the task id is appended.
const (
	ProgressBarPrefix        = "progress-bar-"
	ProgressBarMessagePrefix = "progress-bar-message-"
	ResultPrefix             = "celery-result-"
)

// Options overrides parts of a task's configuration. Zero-valued fields fall
// back to the defaults.
type Options struct {
	ProgressBarID             string
	ProgressBarElement        element.Element
	ProgressBarMessageID      string
	ProgressBarMessageElement element.Element
	ResultElementID           string
	ResultElement             element.Element

	OnProgress ProgressFunc
	OnSuccess  OutcomeFunc
	OnError    OutcomeFunc
	OnResult   ResultFunc
}

// JobDescriptor names one task to track.
type JobDescriptor struct {
	JobID   string
	Options *Options
}

// JobConfig is the fully resolved configuration of one task.
type JobConfig struct {
	JobID string

	ProgressBarID             string
	ProgressBarElement        element.Element
	ProgressBarMessageID      string
	ProgressBarMessageElement element.Element
	ResultElementID           string
	ResultElement             element.Element

	Callbacks Callbacks
}

// Registry maps task ids to their resolved configuration. It is built once and
// only read afterwards.
type Registry struct {
	configs map[string]JobConfig
	order   []string
}

// BuildRegistry resolves every descriptor in order. Element lookups go through
// doc, which may be nil; absent elements resolve to nil. A repeated task id
// replaces the earlier configuration and is listed again in IDs.
func BuildRegistry(doc element.Document, jobs []JobDescriptor) *Registry {
	r := &Registry{
		configs: make(map[string]JobConfig, len(jobs)),
		order:   make([]string, 0, len(jobs)),
	}
	for _, job := range jobs {
		r.configs[job.JobID] = resolve(doc, job)
		r.order = append(r.order, job.JobID)
	}
	return r
}

func resolve(doc element.Document, job JobDescriptor) JobConfig {
	var opts Options
	if job.Options != nil {
		opts = *job.Options
	}
	cfg := JobConfig{
		JobID:                job.JobID,
		ProgressBarID:        firstNonEmpty(opts.ProgressBarID, ProgressBarPrefix+job.JobID),
		ProgressBarMessageID: firstNonEmpty(opts.ProgressBarMessageID, ProgressBarMessagePrefix+job.JobID),
		ResultElementID:      firstNonEmpty(opts.ResultElementID, ResultPrefix+job.JobID),
		Callbacks: Callbacks{
			OnProgress: opts.OnProgress,
			OnSuccess:  opts.OnSuccess,
			OnError:    opts.OnError,
			OnResult:   opts.OnResult,
		}.withDefaults(),
	}
	cfg.ProgressBarElement = elementOr(opts.ProgressBarElement, doc, cfg.ProgressBarID)
	cfg.ProgressBarMessageElement = elementOr(opts.ProgressBarMessageElement, doc, cfg.ProgressBarMessageID)
	cfg.ResultElement = elementOr(opts.ResultElement, doc, cfg.ResultElementID)
	return cfg
}

// Lookup returns the configuration registered for id.
func (r *Registry) Lookup(id string) (JobConfig, bool) {
	if r == nil {
		return JobConfig{}, false
	}
	cfg, ok := r.configs[id]
	return cfg, ok
}

// IDs returns the task ids in registration order, duplicates included.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of distinct task ids.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.configs)
}

func firstNonEmpty(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

func elementOr(override element.Element, doc element.Document, id string) element.Element {
	if !element.IsAbsent(override) {
		return override
	}
	return lookup(doc, id)
}

func lookup(doc element.Document, id string) element.Element {
	if doc == nil {
		return nil
	}
	el := doc.ElementByID(id)
	if element.IsAbsent(el) {
		return nil
	}
	return el
}
