package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Namann-14/artifex/internal/domain"
	"github.com/Namann-14/artifex/internal/history"
	"github.com/Namann-14/artifex/internal/middleware"
	"github.com/Namann-14/artifex/internal/orchestrator"
)

// maxRequestBytes bounds a generation body, inline images included.
const maxRequestBytes = 32 << 20

// CodeProviderRateLimited is returned when the provider kept answering 429.
const CodeProviderRateLimited = "provider_rate_limited"

type imageInput struct {
	URL  string `json:"url" validate:"omitempty,url,max=2048"`
	Data string `json:"data" validate:"omitempty,base64"`
	MIME string `json:"mime" validate:"omitempty,max=64"`
}

type parametersInput struct {
	Quality         string `json:"quality" validate:"omitempty,max=16"`
	AspectRatio     string `json:"aspect_ratio" validate:"omitempty,max=16"`
	Size            string `json:"size" validate:"omitempty,max=16"`
	Style           string `json:"style" validate:"omitempty,max=64"`
	Seed            *int64 `json:"seed" validate:"omitempty,min=0"`
	NegativePrompt  string `json:"negative_prompt" validate:"omitempty,max=1000"`
	DurationSeconds int    `json:"duration_seconds" validate:"omitempty,min=1,max=60"`
	BatchSize       int    `json:"batch_size" validate:"omitempty,min=1,max=16"`
	Provider        string `json:"provider" validate:"omitempty,max=32"`
	Model           string `json:"model" validate:"omitempty,max=64"`
}

type generationRequest struct {
	Prompt     string          `json:"prompt" validate:"required"`
	Images     []imageInput    `json:"images" validate:"max=8,dive"`
	Parameters parametersInput `json:"parameters"`
}

func (p parametersInput) toDomain() domain.Parameters {
	return domain.Parameters{
		Quality:         p.Quality,
		AspectRatio:     p.AspectRatio,
		Size:            p.Size,
		Style:           p.Style,
		Seed:            p.Seed,
		NegativePrompt:  p.NegativePrompt,
		DurationSeconds: p.DurationSeconds,
		BatchSize:       p.BatchSize,
		Provider:        p.Provider,
		Model:           p.Model,
	}
}

type assetView struct {
	URL         string `json:"url"`
	SourceURL   string `json:"sourceUrl,omitempty"`
	StorageKey  string `json:"storageKey,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Format      string `json:"format,omitempty"`
	ByteSize    int64  `json:"byteSize,omitempty"`
	Degraded    bool   `json:"degraded,omitempty"`
	UploadError string `json:"uploadError,omitempty"`
}

type jobView struct {
	JobID          string               `json:"jobId"`
	Kind           domain.Kind          `json:"kind"`
	State          domain.State         `json:"state"`
	Outputs        []assetView          `json:"outputs"`
	CostUnits      int                  `json:"costUnits"`
	ProviderTaskID string               `json:"providerTaskId,omitempty"`
	FailureReason  domain.FailureReason `json:"failureReason,omitempty"`
	ErrorDetail    string               `json:"errorDetail,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

func newJobView(job domain.GenerationJob) jobView {
	view := jobView{
		JobID:          job.ID,
		Kind:           job.Kind,
		State:          job.State,
		Outputs:        make([]assetView, 0, len(job.Outputs)),
		CostUnits:      job.CostUnits,
		ProviderTaskID: job.ProviderTaskID,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
	for _, out := range job.Outputs {
		view.Outputs = append(view.Outputs, assetView{
			URL:         out.URL(),
			SourceURL:   out.SourceURL,
			StorageKey:  out.StorageKey,
			Width:       out.Width,
			Height:      out.Height,
			Format:      out.Format,
			ByteSize:    out.ByteSize,
			Degraded:    out.Degraded,
			UploadError: out.UploadError,
		})
	}
	if job.Failure != nil {
		view.FailureReason = job.Failure.Reason
		view.ErrorDetail = job.Failure.Detail
	}
	return view
}

// CreateGeneration runs a job synchronously and answers with its final state.
func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		a.error(w, r, http.StatusBadRequest, string(domain.ReasonValidation), err.Error())
		return
	}

	var req generationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		a.error(w, r, http.StatusBadRequest, string(domain.ReasonValidation), "invalid payload")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.error(w, r, http.StatusBadRequest, string(domain.ReasonValidation), validationMessage(err))
		return
	}
	images, err := decodeImages(req.Images)
	if err != nil {
		a.error(w, r, http.StatusBadRequest, string(domain.ReasonValidation), err.Error())
		return
	}

	meta := map[string]any{}
	if country := middleware.CountryFromContext(r.Context()); country != "" {
		meta[history.MetaClientCountry] = country
	}
	if rid := middleware.RequestIDFromContext(r.Context()); rid != "" {
		meta["request_id"] = rid
	}

	res := a.Generator.Run(r.Context(), orchestrator.Request{
		OwnerID:    principal.OwnerID,
		Tier:       principal.Tier,
		Kind:       kind,
		Prompt:     req.Prompt,
		Images:     images,
		Parameters: req.Parameters.toDomain(),
		Metadata:   meta,
	})

	view := newJobView(res.Job)
	if res.OK() {
		a.json(w, r, http.StatusCreated, view)
		return
	}
	status, code := failureStatus(res)
	a.errorWithData(w, r, status, code, failureMessage(res), map[string]any{
		"jobId": view.JobID,
		"state": view.State,
	})
}

// failureStatus maps a failed run onto the HTTP status and public code.
func failureStatus(res orchestrator.Result) (int, string) {
	switch res.Reason {
	case domain.ReasonValidation, domain.ReasonQuotaExceeded:
		return http.StatusBadRequest, string(res.Reason)
	case domain.ReasonProviderUnavailable:
		if res.RateLimited {
			return http.StatusTooManyRequests, CodeProviderRateLimited
		}
	}
	if res.Reason == "" {
		return http.StatusInternalServerError, string(domain.ReasonInternal)
	}
	return http.StatusInternalServerError, string(res.Reason)
}

func failureMessage(res orchestrator.Result) string {
	switch res.Reason {
	case domain.ReasonValidation, domain.ReasonQuotaExceeded, domain.ReasonGenerationFailed:
		return res.Job.ErrorDetail()
	case domain.ReasonProviderUnavailable:
		if res.RateLimited {
			return "provider is rate limiting requests, try again later"
		}
		return "provider is unavailable, try again later"
	case domain.ReasonProviderRejected:
		return "provider rejected the request"
	case domain.ReasonTimeout:
		return "generation did not finish in time"
	case domain.ReasonNoOutputs:
		return "provider finished without producing outputs"
	case domain.ReasonQuotaUnavailable:
		return "quota service unavailable"
	default:
		return "internal error"
	}
}

func decodeImages(in []imageInput) ([]domain.ImageRef, error) {
	out := make([]domain.ImageRef, 0, len(in))
	for i, img := range in {
		ref := domain.ImageRef{URL: strings.TrimSpace(img.URL), MIME: strings.TrimSpace(img.MIME)}
		if img.Data != "" {
			data, err := base64.StdEncoding.DecodeString(img.Data)
			if err != nil {
				return nil, domain.NewValidationError("images", "image %d data is not valid base64", i)
			}
			ref.Data = data
		}
		if ref.URL == "" && len(ref.Data) == 0 {
			return nil, domain.NewValidationError("images", "image %d needs url or data", i)
		}
		out = append(out, ref)
	}
	return out, nil
}

// GetGeneration returns a job from the live tracker or, once evicted, from
// history.
func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := strings.TrimSpace(chi.URLParam(r, "jobId"))
	if jobID == "" {
		a.error(w, r, http.StatusBadRequest, string(domain.ReasonValidation), "jobId required")
		return
	}
	if a.Jobs != nil {
		if job, found := a.Jobs.Get(principal.OwnerID, jobID); found {
			a.json(w, r, http.StatusOK, newJobView(job))
			return
		}
	}
	rec, err := a.History.Get(r.Context(), principal.OwnerID, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("failed to load job history")
		a.error(w, r, http.StatusInternalServerError, string(domain.ReasonInternal), "failed to load job")
		return
	}
	a.json(w, r, http.StatusOK, newJobView(rec.Job()))
}

type listResponse struct {
	Items  []jobView `json:"items"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

// ListGenerations pages through the caller's history, newest first.
func (a *App) ListGenerations(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.error(w, r, http.StatusBadRequest, string(domain.ReasonValidation), "limit must be a number")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		a.error(w, r, http.StatusBadRequest, string(domain.ReasonValidation), "offset must be a number")
		return
	}
	limit, offset = history.ClampPage(limit, offset)

	records, err := a.History.List(r.Context(), principal.OwnerID, limit, offset)
	if err != nil {
		a.Logger.Error().Err(err).Msg("failed to list job history")
		a.error(w, r, http.StatusInternalServerError, string(domain.ReasonInternal), "failed to list jobs")
		return
	}
	resp := listResponse{Items: make([]jobView, 0, len(records)), Limit: limit, Offset: offset}
	for _, rec := range records {
		resp.Items = append(resp.Items, newJobView(rec.Job()))
	}
	a.json(w, r, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
