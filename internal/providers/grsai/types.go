package grsai

import "encoding/json"

// TaskStatus enumerates the job states reported by the /v1/draw/result
// endpoint.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the status requires no further polling.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed
}

// VideoRequest captures the inputs for one video generation submission.
type VideoRequest struct {
	Prompt      string
	ImageURL    string
	AspectRatio string
	Duration    int
	// WebhookURL, when set, asks the API to push the terminal result to the
	// given callback instead of relying on polling alone.
	WebhookURL string
}

// TaskResult is the normalized job state returned by the result endpoint.
type TaskResult struct {
	ID            string
	Status        TaskStatus
	Progress      int
	VideoURL      string
	FailureReason string
	ErrorMessage  string
}

// Every Grsai response wraps its payload in a {code, msg, data} envelope;
// code 0 means success.
type envelope struct {
	Code *int            `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type submitRequest struct {
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	URL          string `json:"url,omitempty"`
	AspectRatio  string `json:"aspectRatio"`
	Duration     int    `json:"duration"`
	Size         string `json:"size"`
	ShutProgress bool   `json:"shutProgress"`
	WebHook      string `json:"webHook"`
}

type submitData struct {
	ID string `json:"id"`
}

type resultRequest struct {
	ID string `json:"id"`
}

type resultItem struct {
	URL string `json:"url"`
}

// ResultData is the wire shape of a job state. It is exported because the
// webhook receiver decodes the same payload from provider callbacks.
type ResultData struct {
	ID            string       `json:"id"`
	Progress      int          `json:"progress"`
	Status        string       `json:"status"`
	FailureReason string       `json:"failure_reason"`
	Error         string       `json:"error"`
	Results       []resultItem `json:"results"`
}

// Normalize converts the wire shape into a TaskResult.
func (d ResultData) Normalize() TaskResult {
	res := TaskResult{
		ID:            d.ID,
		Status:        TaskStatus(d.Status),
		Progress:      d.Progress,
		FailureReason: d.FailureReason,
		ErrorMessage:  d.Error,
	}
	if len(d.Results) > 0 {
		res.VideoURL = d.Results[0].URL
	}
	return res
}

type creditsData struct {
	Credits int `json:"credits"`
}

type modelStatusData struct {
	Status bool `json:"status"`
}
