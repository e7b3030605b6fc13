package tracker

import (
	"encoding/json"
	"strings"

	"github.com/JakeFAU/realtime-task-progress/internal/element"
)

// Bar colors used by the default renderers.
const (
	ProgressColor = "#68a9ef"
	SuccessColor  = "#76ce60"
	ErrorColor    = "#dc4f63"
)

// ProgressFunc renders a progress update onto a bar and its message element.
type ProgressFunc func(bar, message element.Element, p Progress)

// OutcomeFunc renders a task's success or failure.
type OutcomeFunc func(bar, message element.Element, result json.RawMessage)

// ResultFunc renders a task's result payload.
type ResultFunc func(target element.Element, result json.RawMessage)

// Callbacks is the per-task set of renderers. Each one can be swapped
// independently through Options.
type Callbacks struct {
	OnProgress ProgressFunc
	OnSuccess  OutcomeFunc
	OnError    OutcomeFunc
	OnResult   ResultFunc
}

// DefaultCallbacks returns the built-in renderers.
func DefaultCallbacks() Callbacks {
	return Callbacks{
		OnProgress: OnProgressDefault,
		OnSuccess:  OnSuccessDefault,
		OnError:    OnErrorDefault,
		OnResult:   OnResultDefault,
	}
}

func (c Callbacks) withDefaults() Callbacks {
	d := DefaultCallbacks()
	if c.OnProgress == nil {
		c.OnProgress = d.OnProgress
	}
	if c.OnSuccess == nil {
		c.OnSuccess = d.OnSuccess
	}
	if c.OnError == nil {
		c.OnError = d.OnError
	}
	if c.OnResult == nil {
		c.OnResult = d.OnResult
	}
	return c
}

// OnProgressDefault colors the bar, sets its width to the reported percentage
// and writes "<current> of <total> processed. <description>" to the message.
func OnProgressDefault(bar, message element.Element, p Progress) {
	if bar != nil {
		bar.SetStyle("background-color", ProgressColor)
		bar.SetStyle("width", formatCount(p.Percent)+"%")
	}
	if message != nil {
		message.SetContent(formatCount(p.Current) + " of " + formatCount(p.Total) + " processed. " + p.Description)
	}
}

// OnSuccessDefault renders a completed task through the single-task renderer.
func OnSuccessDefault(bar, message element.Element, _ json.RawMessage) {
	SingleTask.Success(bar, message)
}

// OnErrorDefault renders a failed task through the single-task renderer.
func OnErrorDefault(bar, message element.Element, result json.RawMessage) {
	SingleTask.Error(bar, message, ResultText(result))
}

// OnResultDefault writes the result payload into the result element.
func OnResultDefault(target element.Element, result json.RawMessage) {
	SingleTask.Result(target, result)
}

// TaskRenderer draws the terminal states of a single task.
type TaskRenderer struct {
	SuccessColor   string
	ErrorColor     string
	SuccessMessage string
	ErrorMessage   string
}

// SingleTask is the renderer the default success/error/result callbacks use.
var SingleTask = TaskRenderer{
	SuccessColor:   SuccessColor,
	ErrorColor:     ErrorColor,
	SuccessMessage: "Success!",
	ErrorMessage:   "Uh-Oh, something went wrong!",
}

// Success fills the bar and writes the success message.
func (r TaskRenderer) Success(bar, message element.Element) {
	r.fill(bar, r.SuccessColor)
	if message != nil {
		message.SetContent(r.SuccessMessage)
	}
}

// Error fills the bar with the error color and writes the error message
// followed by excMessage.
func (r TaskRenderer) Error(bar, message element.Element, excMessage string) {
	r.fill(bar, r.ErrorColor)
	if message != nil {
		message.SetContent(strings.TrimSpace(r.ErrorMessage + " " + excMessage))
	}
}

// Result writes the result as text.
func (r TaskRenderer) Result(target element.Element, result json.RawMessage) {
	if target == nil {
		return
	}
	target.SetContent(ResultText(result))
}

func (r TaskRenderer) fill(bar element.Element, color string) {
	if bar == nil {
		return
	}
	bar.SetStyle("background-color", color)
	bar.SetStyle("width", "100%")
}

// ResultText renders a raw result for display: JSON strings are unquoted, any
// other JSON value is returned verbatim.
func ResultText(result json.RawMessage) string {
	if len(result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(result, &s); err == nil {
		return s
	}
	return string(result)
}
