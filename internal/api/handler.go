// Package api serves the admin REST surface: practice onboarding, sync
// triggers, job and health history, stored records and push-back.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/pmsync/internal/domain/audit"
	"github.com/ehr/pmsync/internal/domain/practice"
	"github.com/ehr/pmsync/internal/domain/records"
	"github.com/ehr/pmsync/internal/healthcheck"
	"github.com/ehr/pmsync/internal/orchestrator"
	"github.com/ehr/pmsync/internal/platform/auth"
	"github.com/ehr/pmsync/internal/platform/notification"
	"github.com/ehr/pmsync/internal/platform/runlock"
	"github.com/ehr/pmsync/internal/pushback"
	"github.com/ehr/pmsync/pkg/pagination"
)

type Syncer interface {
	FullSync(ctx context.Context, practiceID uuid.UUID) (*audit.SyncJob, error)
	IncrementalSyncPractice(ctx context.Context, practiceID uuid.UUID) (*audit.SyncJob, error)
	IncrementalSync(ctx context.Context) orchestrator.Summary
}

type Pusher interface {
	Run(ctx context.Context, op string, practiceID, localID uuid.UUID) pushback.Result
}

type HealthChecker interface {
	Check(ctx context.Context, p *practice.Practice) healthcheck.Report
	History(ctx context.Context, practiceID uuid.UUID, limit int) ([]*audit.HealthCheck, error)
}

type AlertFeed interface {
	Recent(practiceID string) []*notification.Alert
}

// Deps collects the collaborators of the admin API.
type Deps struct {
	Practices *practice.Service
	Records   records.Store
	Jobs      audit.JobRepository
	Sync      Syncer
	Writer    Pusher
	Health    HealthChecker
	Alerts    AlertFeed
	Logger    zerolog.Logger
}

type Handler struct {
	Deps
	// Background syncs started by the API; Wait blocks until they finish.
	inflight sync.WaitGroup
	// base is the parent context of background syncs.
	base context.Context
}

func NewHandler(base context.Context, d Deps) *Handler {
	return &Handler{Deps: d, base: base}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleViewer))
	read.GET("/practices", h.ListPractices)
	read.GET("/practices/:id", h.GetPractice)
	read.GET("/practices/:id/jobs", h.ListJobs)
	read.GET("/practices/:id/health", h.GetHealth)
	read.GET("/practices/:id/records/:kind", h.ListRecords)
	read.GET("/practices/:id/records/:kind/:recordId", h.GetRecord)
	read.GET("/sync-jobs/:id", h.GetJob)
	read.GET("/alerts", h.ListAlerts)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin))
	write.POST("/practices", h.CreatePractice)
	write.POST("/practices/:id/sync/full", h.TriggerFullSync)
	write.POST("/practices/:id/sync/incremental", h.TriggerIncrementalSync)
	write.POST("/sync/incremental", h.TriggerIncrementalAll)
	write.POST("/practices/:id/health/check", h.RunHealthCheck)
	write.POST("/practices/:id/records/:kind", h.CreateLocalRecord)
	write.POST("/practices/:id/push/:operation/:localId", h.Push)
}

// Wait blocks until background syncs started through the API have returned.
func (h *Handler) Wait() { h.inflight.Wait() }

// ---------------------------------------------------------------------------
// Practices
// ---------------------------------------------------------------------------

type createPracticeRequest struct {
	Name        string `json:"name"`
	Subdomain   string `json:"subdomain"`
	LocationID  string `json:"location_id"`
	Environment string `json:"environment"`
	APIKey      string `json:"api_key"`
}

func (h *Handler) CreatePractice(c echo.Context) error {
	var req createPracticeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p := &practice.Practice{
		Name:        req.Name,
		Subdomain:   req.Subdomain,
		LocationID:  req.LocationID,
		Environment: req.Environment,
		APIKey:      req.APIKey,
	}
	if err := h.Practices.Onboard(c.Request().Context(), p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.Logger.Info().
		Str("practice_id", p.ID.String()).
		Str("subdomain", p.Subdomain).
		Str("operator", auth.OperatorFromContext(c.Request().Context())).
		Msg("practice onboarded")
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPractices(c echo.Context) error {
	items, err := h.Practices.ListActive(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), len(items), 0))
}

func (h *Handler) GetPractice(c echo.Context) error {
	p, err := h.practice(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) practice(c echo.Context) (*practice.Practice, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid practice id")
	}
	p, err := h.Practices.Get(c.Request().Context(), id)
	if errors.Is(err, practice.ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "practice not found")
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Sync
// ---------------------------------------------------------------------------

// TriggerFullSync starts a full sync. By default it runs in the background
// and answers 202; ?wait=true runs it inline and returns the finished job.
func (h *Handler) TriggerFullSync(c echo.Context) error {
	return h.trigger(c, audit.JobFull, h.Sync.FullSync)
}

func (h *Handler) TriggerIncrementalSync(c echo.Context) error {
	return h.trigger(c, audit.JobIncremental, h.Sync.IncrementalSyncPractice)
}

func (h *Handler) trigger(c echo.Context, jobType string, run func(context.Context, uuid.UUID) (*audit.SyncJob, error)) error {
	p, err := h.practice(c)
	if err != nil {
		return err
	}
	if !p.Configured() {
		return echo.NewHTTPError(http.StatusConflict, "practice is not configured for upstream access")
	}
	log := h.Logger.With().
		Str("practice_id", p.ID.String()).
		Str("job_type", jobType).
		Str("operator", auth.OperatorFromContext(c.Request().Context())).
		Logger()

	if wait, _ := strconv.ParseBool(c.QueryParam("wait")); wait {
		job, err := run(c.Request().Context(), p.ID)
		if job != nil {
			return c.JSON(http.StatusOK, job)
		}
		if errors.Is(err, runlock.ErrLocked) {
			return echo.NewHTTPError(http.StatusConflict, "a sync is already running for this practice")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		job, err := run(h.base, p.ID)
		switch {
		case errors.Is(err, runlock.ErrLocked):
			log.Warn().Msg("sync skipped: already running")
		case err != nil:
			log.Error().Err(err).Msg("background sync failed")
		default:
			log.Info().Str("job_id", job.ID.String()).Str("status", job.Status).Msg("background sync finished")
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]string{
		"practice_id": p.ID.String(),
		"type":        jobType,
		"status":      "accepted",
	})
}

type summaryResponse struct {
	Practices int               `json:"practices"`
	Completed int               `json:"completed"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Jobs      []*audit.SyncJob  `json:"jobs"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// TriggerIncrementalAll runs one incremental pass over every active practice
// and returns the summary.
func (h *Handler) TriggerIncrementalAll(c echo.Context) error {
	sum := h.Sync.IncrementalSync(c.Request().Context())
	resp := summaryResponse{
		Practices: sum.Practices,
		Completed: sum.Completed,
		Failed:    sum.Failed,
		Skipped:   sum.Skipped,
		Jobs:      sum.Jobs,
	}
	if len(sum.Errors) > 0 {
		resp.Errors = make(map[string]string, len(sum.Errors))
		for id, msg := range sum.Errors {
			resp.Errors[id.String()] = msg
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListJobs(c echo.Context) error {
	p, err := h.practice(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.Jobs.ListByPractice(c.Request().Context(), p.ID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetJob(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}
	job, err := h.Jobs.GetByID(c.Request().Context(), id)
	if errors.Is(err, audit.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "sync job not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, job)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func (h *Handler) GetHealth(c echo.Context) error {
	p, err := h.practice(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > pagination.MaxLimit {
		limit = pagination.DefaultLimit
	}
	history, err := h.Health.History(c.Request().Context(), p.ID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"practice_id": p.ID,
		"status":      p.Status,
		"last_error":  p.LastError,
		"checks":      history,
	})
}

func (h *Handler) RunHealthCheck(c echo.Context) error {
	p, err := h.practice(c)
	if err != nil {
		return err
	}
	if !p.Configured() {
		return echo.NewHTTPError(http.StatusConflict, "practice is not configured for upstream access")
	}
	return c.JSON(http.StatusOK, h.Health.Check(c.Request().Context(), p))
}

func (h *Handler) ListAlerts(c echo.Context) error {
	if h.Alerts == nil {
		return c.JSON(http.StatusOK, []*notification.Alert{})
	}
	return c.JSON(http.StatusOK, h.Alerts.Recent(c.QueryParam("practice_id")))
}

// ---------------------------------------------------------------------------
// Records and push-back
// ---------------------------------------------------------------------------

func kindParam(c echo.Context) (records.Kind, error) {
	k := records.Kind(c.Param("kind"))
	if !k.Valid() {
		return "", echo.NewHTTPError(http.StatusBadRequest, "unknown record kind")
	}
	return k, nil
}

func (h *Handler) ListRecords(c echo.Context) error {
	p, err := h.practice(c)
	if err != nil {
		return err
	}
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.Records.List(c.Request().Context(), p.ID, kind, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetRecord(c echo.Context) error {
	p, err := h.practice(c)
	if err != nil {
		return err
	}
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("recordId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}
	row, err := h.Records.GetByID(c.Request().Context(), kind, id)
	if errors.Is(err, records.ErrNotFound) || (err == nil && row.PracticeID != p.ID) {
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, row)
}

// CreateLocalRecord stores a locally originated entity that a later push
// operation sends upstream.
func (h *Handler) CreateLocalRecord(c echo.Context) error {
	p, err := h.practice(c)
	if err != nil {
		return err
	}
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	rec, err := records.New(kind)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := json.NewDecoder(c.Request().Body).Decode(rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record body: "+err.Error())
	}
	rec.SetForeignKey("")
	row, err := h.Records.CreateLocal(c.Request().Context(), p.ID, rec)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, row)
}

// Push runs a push-back operation. Upstream rejections answer 422 with the
// failed Result.
func (h *Handler) Push(c echo.Context) error {
	p, err := h.practice(c)
	if err != nil {
		return err
	}
	localID, err := uuid.Parse(c.Param("localId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid local id")
	}
	op := c.Param("operation")
	res := h.Writer.Run(c.Request().Context(), op, p.ID, localID)
	h.Logger.Info().
		Str("practice_id", p.ID.String()).
		Str("operation", op).
		Str("local_id", localID.String()).
		Bool("success", res.Success).
		Str("operator", auth.OperatorFromContext(c.Request().Context())).
		Msg("push-back")
	if !res.Success {
		return c.JSON(http.StatusUnprocessableEntity, res)
	}
	return c.JSON(http.StatusOK, res)
}
