package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Namann-14/artifex/internal/domain"
)

func TestNormalizeVendorShapes(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		status  Status
		taskID  string
		outputs []string
		errText string
	}{
		{
			name:   "dashscope pending submit",
			body:   `{"output":{"task_id":"t-1","task_status":"PENDING"},"request_id":"r-1"}`,
			status: StatusRunning,
			taskID: "t-1",
		},
		{
			name:    "dashscope image results as objects",
			body:    `{"output":{"task_id":"t-1","task_status":"SUCCEEDED","results":[{"url":"https://x/a.png"},{"url":"https://x/b.png"}]}}`,
			status:  StatusSucceeded,
			taskID:  "t-1",
			outputs: []string{"https://x/a.png", "https://x/b.png"},
		},
		{
			name:    "dashscope video url",
			body:    `{"output":{"task_id":"t-2","task_status":"SUCCEEDED","video_url":"https://x/v.mp4"}}`,
			status:  StatusSucceeded,
			taskID:  "t-2",
			outputs: []string{"https://x/v.mp4"},
		},
		{
			name:    "failed with vendor message",
			body:    `{"output":{"task_id":"t-3","task_status":"FAILED","code":"DataInspectionFailed","message":"safety violation"}}`,
			status:  StatusFailed,
			taskID:  "t-3",
			errText: "safety violation",
		},
		{
			name:    "camel case keys and lower case status",
			body:    `{"data":{"taskId":"abc","taskStatus":"completed","imageUrls":["https://x/c.png"]}}`,
			status:  StatusSucceeded,
			taskID:  "abc",
			outputs: []string{"https://x/c.png"},
		},
		{
			name:    "plain string array",
			body:    `{"status":"Done","images":["https://x/d.png","https://x/d.png"]}`,
			status:  StatusSucceeded,
			outputs: []string{"https://x/d.png"},
		},
		{
			name:    "chat style content",
			body:    `{"output":{"choices":[{"message":{"content":[{"image":"https://x/e.png"}]}}]}}`,
			status:  StatusSucceeded,
			outputs: []string{"https://x/e.png"},
		},
		{
			name:   "status with spaces",
			body:   `{"state":"In Progress"}`,
			status: StatusRunning,
		},
		{
			name:    "unknown status with error only",
			body:    `{"status":"weird","error":{"message":"quota gone","code":"E1"}}`,
			status:  StatusFailed,
			errText: "quota gone",
		},
		{
			name:   "nothing recognisable keeps running",
			body:   `{"request_id":"r"}`,
			status: StatusRunning,
		},
		{
			name:    "failed without message",
			body:    `{"status":"CANCELLED"}`,
			status:  StatusFailed,
			errText: "provider reported cancelled",
		},
		{
			name:   "succeeded without outputs",
			body:   `{"output":{"task_status":"SUCCEEDED","results":[]}}`,
			status: StatusSucceeded,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.status, got.Status)
			assert.Equal(t, tc.taskID, got.TaskID)
			assert.Equal(t, tc.outputs, got.Outputs)
			if tc.errText != "" {
				assert.Contains(t, got.Error, tc.errText)
			}
		})
	}
}

func TestNormalizeRejectsInvalidJSON(t *testing.T) {
	_, err := Normalize([]byte("<html>"))
	assert.Error(t, err)
}

func TestNormalizerCustomVocabulary(t *testing.T) {
	vocab := StatusVocabulary{"baking": StatusRunning, "served": StatusSucceeded}
	n := Normalizer{Vocabulary: vocab}

	got, err := n.Normalize([]byte(`{"status":"SERVED","url":"https://x/f.png"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)

	got, err = n.Normalize([]byte(`{"status":"baking"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestClassifyStatus(t *testing.T) {
	cases := map[int]ErrorKind{
		http.StatusUnauthorized:        KindAuthentication,
		http.StatusForbidden:           KindAuthentication,
		http.StatusTooManyRequests:     KindRateLimited,
		http.StatusBadRequest:          KindValidationRejected,
		http.StatusUnprocessableEntity: KindValidationRejected,
		http.StatusInternalServerError: KindTransient,
		http.StatusBadGateway:          KindTransient,
		http.StatusGatewayTimeout:      KindTransient,
		http.StatusConflict:            KindUnexpected,
		http.StatusFound:               KindUnexpected,
	}
	for status, want := range cases {
		assert.Equal(t, want, ClassifyStatus(status), "status %d", status)
	}
}

func TestFromResponseExtractsVendorMessage(t *testing.T) {
	body := []byte(`{"code":"InvalidApiKey","message":"Invalid API-key provided.","request_id":"r"}`)
	err := FromResponse("qwen", http.StatusUnauthorized, body)

	assert.Equal(t, KindAuthentication, err.Kind)
	assert.Equal(t, "InvalidApiKey", err.Code)
	assert.Equal(t, "Invalid API-key provided.", err.Message)
	assert.False(t, err.Retryable())
	assert.Contains(t, err.Error(), "status 401")
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, IsRetryable(&Error{Kind: KindTransient}))
	assert.True(t, IsRetryable(&Error{Kind: KindRateLimited}))
	assert.False(t, IsRetryable(&Error{Kind: KindValidationRejected}))
	assert.False(t, IsRetryable(&Error{Kind: KindUnexpected}))

	wrapped := fmt.Errorf("submit: %w", &Error{Kind: KindRateLimited})
	assert.Equal(t, KindRateLimited, KindOf(wrapped))

	assert.Equal(t, KindTransient, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindUnexpected, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnexpected, FromTransport("qwen", context.Canceled).Kind)
	assert.Equal(t, KindTransient, FromTransport("qwen", errors.New("connection reset")).Kind)
}

func TestEncodeImage(t *testing.T) {
	assert.Equal(t, "https://x/a.png", EncodeImage(domain.ImageRef{URL: " https://x/a.png "}))

	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	encoded := EncodeImage(domain.ImageRef{Data: png})
	assert.True(t, strings.HasPrefix(encoded, "data:image/png;base64,"), encoded)

	encoded = EncodeImage(domain.ImageRef{Data: []byte{1, 2}, MIME: "image/webp"})
	assert.True(t, strings.HasPrefix(encoded, "data:image/webp;base64,"), encoded)
}

type namedClient struct{ name string }

func (n namedClient) Name() string { return n.name }
func (namedClient) Submit(context.Context, SubmitRequest) (SubmitResult, error) {
	return SubmitResult{}, nil
}
func (namedClient) Poll(context.Context, string) (PollResult, error) { return PollResult{}, nil }

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry(namedClient{name: "qwen"}, namedClient{name: "synthetic"})

	c, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "qwen", c.Name())

	c, err = reg.Resolve("Synthetic")
	require.NoError(t, err)
	assert.Equal(t, "synthetic", c.Name())

	_, err = reg.Resolve("midjourney")
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, []string{"qwen", "synthetic"}, reg.Names())
}

func TestRegistryDefaultIgnoresNameCase(t *testing.T) {
	reg := NewRegistry(namedClient{name: "DashScope"}, namedClient{name: "synthetic"})

	c, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "DashScope", c.Name())
	assert.Equal(t, "dashscope", reg.Default())
}
