package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/erp/arledger/internal/application/report"
	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/erp/arledger/internal/infrastructure/logger"
	"github.com/erp/arledger/internal/interfaces/http/dto"
	"github.com/erp/arledger/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRunListLimit is used when the caller does not bound the listing
const DefaultRunListLimit = 20

// ReportRunner is the application surface the handler drives.
// report.GenerationService implements it.
type ReportRunner interface {
	Generate(ctx context.Context, req report.RunRequest) (*report.GenerationResult, error)
	RecentRuns(ctx context.Context, limit int) ([]report.RunRecord, error)
	FindRun(ctx context.Context, id uuid.UUID) (*report.RunRecord, error)
	FindTable(ctx context.Context, id uuid.UUID, name string) (receivable.Table, error)
}

// ReportHandler handles the report run API
type ReportHandler struct {
	BaseHandler
	runner ReportRunner
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(runner ReportRunner) *ReportHandler {
	return &ReportHandler{runner: runner}
}

// CreateRun godoc
// @ID           createReportRun
// @Summary      Run the receivables report
// @Description  Reconciles the ledger for the period, renders the artifacts and records the run.
// @Description  An empty period still records a run with status EMPTY.
// @Tags         reports
// @Accept       json
// @Produce      json
// @Param        request body dto.CreateRunRequest false "Run parameters"
// @Success      201 {object} dto.Response{data=dto.RunResponse}
// @Failure      400 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Failure      502 {object} dto.Response
// @Failure      503 {object} dto.Response
// @Failure      504 {object} dto.Response
// @Security     BearerAuth
// @Router       /reports/runs [post]
func (h *ReportHandler) CreateRun(c *gin.Context) {
	// an empty body runs with the configured defaults
	var body dto.CreateRunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			h.bindError(c, err)
			return
		}
	}

	req, err := body.ToRunRequest()
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidInput, err.Error())
		return
	}

	result, err := h.runner.Generate(c.Request.Context(), req)
	switch {
	case err == nil, result != nil && errors.Is(err, receivable.ErrEmptyInput):
		h.Created(c, dto.NewGenerationResponse(result))
	case result != nil:
		// the run completed but an exporter failed
		logger.GetGinLogger(c).Error("Report artifacts not exported",
			zap.String("run_id", result.Record.ID.String()),
			zap.Error(err),
		)
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, dto.Response{
			Success: false,
			Data:    dto.NewGenerationResponse(result),
			Error: &dto.ErrorInfo{
				Code:      dto.ErrCodeExportFailed,
				Message:   err.Error(),
				RequestID: getRequestID(c),
			},
		})
	default:
		h.HandleError(c, err)
	}
}

// ListRuns godoc
// @ID           listReportRuns
// @Summary      List recent report runs
// @Tags         reports
// @Produce      json
// @Param        limit query int false "Maximum runs returned" minimum(1) maximum(100)
// @Success      200 {object} dto.Response{data=[]dto.RunResponse}
// @Security     BearerAuth
// @Router       /reports/runs [get]
func (h *ReportHandler) ListRuns(c *gin.Context) {
	var query dto.ListRunsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.bindError(c, err)
		return
	}
	if query.Limit == 0 {
		query.Limit = DefaultRunListLimit
	}

	records, err := h.runner.RecentRuns(c.Request.Context(), query.Limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	runs := make([]dto.RunResponse, 0, len(records))
	for i := range records {
		runs = append(runs, dto.NewRunResponse(&records[i]))
	}
	h.SuccessList(c, runs, len(runs), query.Limit)
}

// GetRun godoc
// @ID           getReportRun
// @Summary      Get one report run
// @Tags         reports
// @Produce      json
// @Param        id path string true "Run ID" format(uuid)
// @Success      200 {object} dto.Response{data=dto.RunResponse}
// @Failure      404 {object} dto.Response
// @Security     BearerAuth
// @Router       /reports/runs/{id} [get]
func (h *ReportHandler) GetRun(c *gin.Context) {
	id, ok := h.runID(c)
	if !ok {
		return
	}

	record, err := h.runner.FindRun(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewRunResponse(record))
}

// GetTable godoc
// @ID           getReportRunTable
// @Summary      Get one flat table of a cached run
// @Description  Tables are kept for the cache TTL after the run.
// @Tags         reports
// @Produce      json
// @Param        id     path  string true  "Run ID" format(uuid)
// @Param        table  path  string true  "Table name, e.g. CUSTOMER_BALANCES"
// @Param        offset query int    false "Rows to skip"
// @Param        limit  query int    false "Rows to return, 0 for all"
// @Success      200 {object} dto.Response{data=dto.TableResponse}
// @Failure      404 {object} dto.Response
// @Security     BearerAuth
// @Router       /reports/runs/{id}/tables/{table} [get]
func (h *ReportHandler) GetTable(c *gin.Context) {
	id, ok := h.runID(c)
	if !ok {
		return
	}
	var query dto.TableQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.bindError(c, err)
		return
	}

	table, err := h.runner.FindTable(c.Request.Context(), id, c.Param("table"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewTableResponse(id.String(), table, query.Offset, query.Limit))
}

func (h *ReportHandler) runID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidInput, "Run ID must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *ReportHandler) bindError(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &validationErrs):
		middleware.HandleValidationError(c, err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.Is(err, io.ErrUnexpectedEOF):
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Request body is not valid JSON")
	default:
		h.BadRequest(c, err.Error())
	}
}
