// Package providers defines the contract between the job orchestrator and the
// external generation vendors, and keeps every vendor response shape behind
// Normalize so callers only see Running, Succeeded or Failed.
package providers

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/Namann-14/artifex/internal/domain"
)

// Status is the normalized outcome of a vendor task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// SubmitRequest is what the orchestrator hands a provider.
type SubmitRequest struct {
	JobID      string
	Kind       domain.Kind
	Prompt     string
	Images     []domain.ImageRef
	Parameters domain.Parameters
}

// PollResult is the uniform task state. Outputs holds URLs (http(s) or data:)
// and is only meaningful when Status is StatusSucceeded.
type PollResult struct {
	Status  Status
	Outputs []string
	Error   string
}

// SubmitResult carries the vendor task id. Immediate is set when the vendor
// answered synchronously and no polling is needed.
type SubmitResult struct {
	TaskID    string
	Immediate *PollResult
}

// Client is implemented by every generation vendor.
type Client interface {
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	Poll(ctx context.Context, taskID string) (PollResult, error)
}

// EncodeImage returns the reference in the form vendors accept: the remote URL
// as is, or inline bytes as a base64 data URI.
func EncodeImage(ref domain.ImageRef) string {
	if !ref.Inline() {
		return strings.TrimSpace(ref.URL)
	}
	mime := strings.TrimSpace(ref.MIME)
	if mime == "" {
		mime = http.DetectContentType(ref.Data)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(ref.Data)
}
