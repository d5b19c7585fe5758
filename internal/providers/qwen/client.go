// Package qwen talks to the DashScope task API. Wanx image and video models
// are asynchronous (submit returns a task id that is polled through
// /tasks/{id}); qwen-image models answer synchronously on the multimodal
// generation endpoint.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Namann-14/artifex/internal/domain"
	"github.com/Namann-14/artifex/internal/infra"
	"github.com/Namann-14/artifex/internal/providers"
)

// Name is the registry name of the DashScope provider.
const Name = "qwen"

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("qwen: api key is required")

const (
	pathText2Image = "/services/aigc/text2image/image-synthesis"
	pathImage2Img  = "/services/aigc/image2image/image-synthesis"
	pathVideo      = "/services/aigc/video-generation/video-synthesis"
	pathMultimodal = "/services/aigc/multimodal-generation/generation"
	pathTasks      = "/tasks/"

	syncModelPrefix = "qwen-image"
)

// Options configures the DashScope client.
type Options struct {
	APIKey         string
	BaseURL        string
	ImageModel     string
	EditModel      string
	VideoModel     string
	DefaultSize    string
	Watermark      bool
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to DashScope and implements providers.Client.
type Client struct {
	apiKey      string
	baseURL     string
	imageModel  string
	editModel   string
	videoModel  string
	defaultSize string
	watermark   bool
	httpClient  *http.Client
	logger      *infra.Logger
	normalizer  providers.Normalizer
}

type taskRequest struct {
	Model      string     `json:"model"`
	Input      taskInput  `json:"input"`
	Parameters taskParams `json:"parameters"`
}

type taskInput struct {
	Prompt         string `json:"prompt,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Function       string `json:"function,omitempty"`
	BaseImageURL   string `json:"base_image_url,omitempty"`
	ImgURL         string `json:"img_url,omitempty"`
}

type taskParams struct {
	Size      string `json:"size,omitempty"`
	N         int    `json:"n,omitempty"`
	Seed      *int64 `json:"seed,omitempty"`
	Style     string `json:"style,omitempty"`
	Duration  int    `json:"duration,omitempty"`
	Watermark *bool  `json:"watermark,omitempty"`
}

type multimodalRequest struct {
	Model      string           `json:"model"`
	Input      multimodalInput  `json:"input"`
	Parameters multimodalParams `json:"parameters"`
}

type multimodalInput struct {
	Messages []multimodalMessage `json:"messages"`
}

type multimodalMessage struct {
	Role    string              `json:"role"`
	Content []multimodalContent `json:"content"`
}

type multimodalContent struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type multimodalParams struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	Watermark      *bool  `json:"watermark,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
}

// errorCodes refines the HTTP status classification with DashScope codes that
// arrive on 200 responses or with misleading status codes.
var errorCodes = map[string]providers.ErrorKind{
	"InvalidApiKey":              providers.KindAuthentication,
	"AccessDenied":               providers.KindAuthentication,
	"Throttling":                 providers.KindRateLimited,
	"Throttling.RateQuota":       providers.KindRateLimited,
	"Throttling.AllocationQuota": providers.KindRateLimited,
	"InvalidParameter":           providers.KindValidationRejected,
	"DataInspectionFailed":       providers.KindValidationRejected,
	"InternalError":              providers.KindTransient,
	"SystemError":                providers.KindTransient,
	"ServiceUnavailable":         providers.KindTransient,
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	logger := opts.Logger
	if logger == nil {
		nop := infra.NopLogger()
		logger = &nop
	}
	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		imageModel:  firstNonEmpty(opts.ImageModel, "wanx2.1-t2i-turbo"),
		editModel:   firstNonEmpty(opts.EditModel, "wanx2.1-imageedit"),
		videoModel:  firstNonEmpty(opts.VideoModel, "wanx2.1-i2v-turbo"),
		defaultSize: firstNonEmpty(opts.DefaultSize, "1024*1024"),
		watermark:   opts.Watermark,
		httpClient:  httpClient,
		logger:      logger,
		normalizer:  providers.Normalizer{Vocabulary: providers.DefaultVocabulary},
	}, nil
}

// Name implements providers.Client.
func (c *Client) Name() string {
	return Name
}

// Submit starts a generation. Synchronous models return the finished result in
// SubmitResult.Immediate.
func (c *Client) Submit(ctx context.Context, req providers.SubmitRequest) (providers.SubmitResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return providers.SubmitResult{}, &providers.Error{Provider: Name, Kind: providers.KindValidationRejected, Message: "prompt is required"}
	}
	model := c.modelFor(req)
	if strings.HasPrefix(model, syncModelPrefix) && !req.Kind.IsVideo() {
		return c.submitMultimodal(ctx, model, req)
	}

	path, payload, err := c.buildTask(model, req)
	if err != nil {
		return providers.SubmitResult{}, err
	}
	body, err := c.do(ctx, http.MethodPost, path, payload, true)
	if err != nil {
		return providers.SubmitResult{}, err
	}
	normalized, err := c.normalize(body)
	if err != nil {
		return providers.SubmitResult{}, err
	}
	if normalized.TaskID == "" {
		return providers.SubmitResult{}, c.unexpected("submit response without task id", body)
	}
	c.logger.Debug().
		Str("job_id", req.JobID).
		Str("model", model).
		Str("task_id", normalized.TaskID).
		Str("task_status", normalized.RawStatus).
		Msg("qwen: task submitted")

	out := providers.SubmitResult{TaskID: normalized.TaskID}
	if normalized.Status != providers.StatusRunning {
		result := normalized.Result()
		out.Immediate = &result
	}
	return out, nil
}

// Poll fetches the task state.
func (c *Client) Poll(ctx context.Context, taskID string) (providers.PollResult, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return providers.PollResult{}, &providers.Error{Provider: Name, Kind: providers.KindValidationRejected, Message: "task id is required"}
	}
	body, err := c.do(ctx, http.MethodGet, pathTasks+url.PathEscape(taskID), nil, false)
	if err != nil {
		return providers.PollResult{}, err
	}
	normalized, err := c.normalize(body)
	if err != nil {
		return providers.PollResult{}, err
	}
	c.logger.Debug().
		Str("task_id", taskID).
		Str("task_status", normalized.RawStatus).
		Int("outputs", len(normalized.Outputs)).
		Msg("qwen: task polled")
	return normalized.Result(), nil
}

func (c *Client) modelFor(req providers.SubmitRequest) string {
	if m := strings.TrimSpace(req.Parameters.Model); m != "" {
		return m
	}
	switch req.Kind {
	case domain.KindImageToVideo:
		return c.videoModel
	case domain.KindImageToImage, domain.KindMultiImage, domain.KindRefine:
		return c.editModel
	default:
		return c.imageModel
	}
}

func (c *Client) buildTask(model string, req providers.SubmitRequest) (string, taskRequest, error) {
	params := req.Parameters
	payload := taskRequest{
		Model: model,
		Input: taskInput{
			Prompt:         promptFor(req.Kind, req.Prompt, len(req.Images)),
			NegativePrompt: strings.TrimSpace(params.NegativePrompt),
		},
		Parameters: taskParams{
			Seed:  params.Seed,
			Style: strings.TrimSpace(params.Style),
		},
	}
	watermark := c.watermark
	payload.Parameters.Watermark = &watermark

	switch req.Kind {
	case domain.KindImageToVideo:
		if len(req.Images) == 0 {
			return "", taskRequest{}, &providers.Error{Provider: Name, Kind: providers.KindValidationRejected, Message: "image-to-video needs an input image"}
		}
		payload.Input.ImgURL = providers.EncodeImage(req.Images[0])
		payload.Parameters.Duration = params.DurationSeconds
		payload.Parameters.Style = ""
		return pathVideo, payload, nil
	case domain.KindImageToImage, domain.KindMultiImage, domain.KindRefine:
		if len(req.Images) == 0 {
			return "", taskRequest{}, &providers.Error{Provider: Name, Kind: providers.KindValidationRejected, Message: fmt.Sprintf("%s needs an input image", req.Kind)}
		}
		payload.Input.Function = "description_edit"
		payload.Input.BaseImageURL = providers.EncodeImage(req.Images[0])
		payload.Parameters.N = params.Batch()
		return pathImage2Img, payload, nil
	default:
		payload.Parameters.Size = firstNonEmpty(params.Size, c.defaultSize)
		payload.Parameters.N = params.Batch()
		return pathText2Image, payload, nil
	}
}

func (c *Client) submitMultimodal(ctx context.Context, model string, req providers.SubmitRequest) (providers.SubmitResult, error) {
	content := []multimodalContent{{Text: promptFor(req.Kind, req.Prompt, len(req.Images))}}
	for _, img := range req.Images {
		content = append(content, multimodalContent{Image: providers.EncodeImage(img)})
	}
	watermark := c.watermark
	payload := multimodalRequest{
		Model: model,
		Input: multimodalInput{Messages: []multimodalMessage{{Role: "user", Content: content}}},
		Parameters: multimodalParams{
			NegativePrompt: strings.TrimSpace(req.Parameters.NegativePrompt),
			Size:           firstNonEmpty(req.Parameters.Size, c.defaultSize),
			Watermark:      &watermark,
			Seed:           req.Parameters.Seed,
		},
	}
	body, err := c.do(ctx, http.MethodPost, pathMultimodal, payload, false)
	if err != nil {
		return providers.SubmitResult{}, err
	}
	normalized, err := c.normalize(body)
	if err != nil {
		return providers.SubmitResult{}, err
	}
	result := normalized.Result()
	if result.Status == providers.StatusRunning {
		// a synchronous endpoint that answered without a result or status
		result = providers.PollResult{Status: providers.StatusSucceeded}
	}
	taskID := firstNonEmpty(normalized.TaskID, req.JobID)
	c.logger.Debug().
		Str("job_id", req.JobID).
		Str("model", model).
		Int("outputs", len(result.Outputs)).
		Msg("qwen: synchronous generation finished")
	return providers.SubmitResult{TaskID: taskID, Immediate: &result}, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, async bool) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, &providers.Error{Provider: Name, Kind: providers.KindUnexpected, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(encoded)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &providers.Error{Provider: Name, Kind: providers.KindUnexpected, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if async {
		httpReq.Header.Set("X-DashScope-Async", "enable")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.FromTransport(Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.FromTransport(Name, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 300 {
		perr := providers.FromResponse(Name, resp.StatusCode, raw)
		c.refine(perr)
		c.logFailure(perr)
		return nil, perr
	}
	return raw, nil
}

func (c *Client) normalize(body []byte) (providers.Normalized, error) {
	normalized, err := c.normalizer.Normalize(body)
	if err != nil {
		return providers.Normalized{}, c.unexpected(err.Error(), body)
	}
	// 200 responses can still carry a request-level error code
	if normalized.ErrorCode != "" && normalized.RawStatus == "" && normalized.TaskID == "" && len(normalized.Outputs) == 0 {
		perr := &providers.Error{Provider: Name, Kind: providers.KindUnexpected, Code: normalized.ErrorCode, Message: normalized.Error, Raw: body}
		c.refine(perr)
		c.logFailure(perr)
		return providers.Normalized{}, perr
	}
	return normalized, nil
}

func (c *Client) refine(perr *providers.Error) {
	if kind, ok := errorCodes[perr.Code]; ok {
		perr.Kind = kind
	}
}

func (c *Client) unexpected(message string, body []byte) *providers.Error {
	perr := &providers.Error{Provider: Name, Kind: providers.KindUnexpected, Message: message, Raw: body}
	c.logFailure(perr)
	return perr
}

func (c *Client) logFailure(perr *providers.Error) {
	event := c.logger.Warn()
	if perr.Kind == providers.KindUnexpected {
		event = c.logger.Error().Bytes("raw", perr.Raw)
	}
	event.
		Str("kind", string(perr.Kind)).
		Int("status", perr.StatusCode).
		Str("code", perr.Code).
		Msg("qwen: request failed")
}

// promptFor phrases multi-image and refine requests for the single-image edit
// call that serves them.
func promptFor(kind domain.Kind, prompt string, images int) string {
	prompt = strings.TrimSpace(prompt)
	switch kind {
	case domain.KindRefine:
		return "Refine the provided image while keeping its composition. " + prompt
	case domain.KindMultiImage:
		return fmt.Sprintf("Combine the subjects of the %d provided images into one scene. %s", images, prompt)
	default:
		return prompt
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

var _ providers.Client = (*Client)(nil)
