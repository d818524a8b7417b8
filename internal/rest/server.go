// Package rest wires the FHIR REST API: CRUD, search, history, bundle
// processing, bulk data and the server metadata endpoints.
package rest

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/fu-foo/fhir-sazare/internal/index"
	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
	"github.com/fu-foo/fhir-sazare/internal/registry"
	"github.com/fu-foo/fhir-sazare/internal/search"
	"github.com/fu-foo/fhir-sazare/internal/storage"
	"github.com/fu-foo/fhir-sazare/internal/validation"
)

// defaultPageSize caps searchset pages when _count is absent.
const defaultPageSize = 100

// Options carries the server identity advertised by /metadata.
type Options struct {
	Version     string
	BaseURL     string
	AuthEnabled bool
	AuthIssuer  string
}

// Server holds the handler dependencies.
type Server struct {
	store     storage.Store
	index     *index.Index
	registry  *registry.Registry
	executor  *search.Executor
	validator *validation.Validator
	logger    zerolog.Logger
	opts      Options
}

// NewServer builds a Server around a store and index.
func NewServer(store storage.Store, ix *index.Index, logger zerolog.Logger, opts Options) *Server {
	return &Server{
		store:     store,
		index:     ix,
		registry:  registry.New(),
		executor:  search.NewExecutor(store, ix),
		validator: validation.New(),
		logger:    logger,
		opts:      opts,
	}
}

// fhirContentType marks resource responses as application/fhir+json.
// echo only fills in a content type when none is set, so the NDJSON
// export and infrastructure endpoints keep their own.
func fhirContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		switch p := c.Request().URL.Path; {
		case p == "/health", p == "/metrics", p == "/$export",
			strings.HasPrefix(p, "/.well-known/"):
		default:
			c.Response().Header().Set(echo.HeaderContentType, "application/fhir+json; charset=utf-8")
		}
		return next(c)
	}
}

// RegisterRoutes mounts every endpoint on the echo instance.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.Use(fhirContentType)

	e.GET("/health", s.handleHealth)
	e.GET("/metadata", s.handleMetadata)
	e.GET("/.well-known/smart-configuration", s.handleSmartConfiguration)

	e.POST("/", s.handleBundle)
	e.GET("/$export", s.handleExport)
	e.POST("/$import", s.handleImport)

	e.POST("/:type/$validate", s.handleValidate)

	e.GET("/:type", s.handleSearch)
	e.POST("/:type", s.handleCreate)
	e.PUT("/:type", s.handleConditionalUpdate)
	e.DELETE("/:type", s.handleConditionalDelete)

	e.GET("/:type/:id/$everything", s.handleEverything)
	e.GET("/:type/:id/_history", s.handleHistory)
	e.GET("/:type/:id/_history/:vid", s.handleVRead)

	e.GET("/:type/:id", s.handleRead)
	e.PUT("/:type/:id", s.handleUpdate)
	e.PATCH("/:type/:id", s.handlePatch)
	e.DELETE("/:type/:id", s.handleDelete)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":      "ok",
		"version":     s.opts.Version,
		"fhirVersion": "4.0.1",
	})
}

// outcomeError writes an OperationOutcome with the given status.
func outcomeError(c echo.Context, status int, outcome *fhir.OperationOutcome) error {
	return c.JSON(status, outcome)
}

// badRequest is the common 400 OperationOutcome response.
func badRequest(c echo.Context, diagnostics string) error {
	return outcomeError(c, http.StatusBadRequest, fhir.ErrorOutcome(fhir.IssueInvalid, diagnostics))
}

// notFound is the common 404 OperationOutcome response.
func notFound(c echo.Context, resourceType, id string) error {
	return outcomeError(c, http.StatusNotFound, fhir.NotFoundOutcome(resourceType, id))
}

// storageError is the common 500 OperationOutcome response.
func storageError(c echo.Context, err error) error {
	return outcomeError(c, http.StatusInternalServerError, fhir.StorageOutcome(err.Error()))
}
