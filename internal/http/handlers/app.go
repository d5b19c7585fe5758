package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Namann-14/artifex/internal/domain"
	"github.com/Namann-14/artifex/internal/history"
	"github.com/Namann-14/artifex/internal/infra"
	"github.com/Namann-14/artifex/internal/orchestrator"
	"github.com/Namann-14/artifex/internal/quota"
)

// Generator runs one generation job to a terminal state.
type Generator interface {
	Run(ctx context.Context, req orchestrator.Request) orchestrator.Result
}

// JobLookup finds jobs that are still in memory.
type JobLookup interface {
	Get(ownerID, jobID string) (domain.GenerationJob, bool)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type App struct {
	Config       *infra.Config
	Logger       zerolog.Logger
	Generator    Generator
	Jobs         JobLookup
	History      history.Store
	Ledger       quota.Ledger
	Capabilities domain.CapabilityTable
	Checks       map[string]HealthCheck

	validate *validator.Validate
}

func NewApp(cfg *infra.Config, logger zerolog.Logger) *App {
	return &App{
		Config:       cfg,
		Logger:       logger,
		Capabilities: domain.DefaultCapabilities(),
		Checks:       map[string]HealthCheck{},
		validate:     newValidator(),
	}
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (a *App) json(w http.ResponseWriter, r *http.Request, code int, v any) {
	render.Status(r, code)
	render.JSON(w, r, envelope{Success: true, Data: v})
}

func (a *App) error(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	a.errorWithData(w, r, status, code, message, nil)
}

func (a *App) errorWithData(w http.ResponseWriter, r *http.Request, status int, code, message string, data any) {
	render.Status(r, status)
	render.JSON(w, r, envelope{Message: message, Code: code, Data: data})
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage turns the first validator failure into a client message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	ok := errors.As(err, &verrs)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := fe.Namespace()
	if _, rest, found := strings.Cut(field, "."); found {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s: is required", field)
	case "max":
		return fmt.Sprintf("%s: must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s: must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s: must be one of %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s: failed %s validation", field, fe.Tag())
	}
}
