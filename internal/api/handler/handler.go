package handler

import (
	"net/http"

	"go-taskgraph/internal/api/dto"
	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/ctxlog"
	"go-taskgraph/internal/domain"
	"go-taskgraph/internal/scheduler"
	"go-taskgraph/internal/service"
	"go-taskgraph/internal/status"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type TaskGraphHandler struct {
	service service.GraphService
}

func NewTaskGraphHandler(svc service.GraphService) *TaskGraphHandler {
	return &TaskGraphHandler{service: svc}
}

func (h *TaskGraphHandler) RegisterRoutes(r gin.IRouter) {
	graphs := r.Group("/task-graphs")
	{
		graphs.POST("", h.CreateTaskGraph)
		graphs.PUT("/:taskGraphId", h.ExtendTaskGraph)
		graphs.GET("/:taskGraphId/status", h.Status)
		graphs.GET("/:taskGraphId/inspect", h.Inspect)
		graphs.GET("/:taskGraphId/tasks/:taskId", h.Task)
		graphs.POST("/:taskGraphId/settle", h.Settle)
	}
}

func (h *TaskGraphHandler) CreateTaskGraph(c *gin.Context) {
	var req dto.CreateTaskGraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	graphID, summary, err := h.service.CreateGraph(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.TaskGraphResponse{TaskGraphID: graphID, Status: summary})
}

func (h *TaskGraphHandler) ExtendTaskGraph(c *gin.Context) {
	graphID, ok := graphIDParam(c)
	if !ok {
		return
	}
	var req dto.ExtendTaskGraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	summary, err := h.service.ExtendGraph(c.Request.Context(), graphID, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.TaskGraphResponse{TaskGraphID: graphID, Status: summary})
}

func (h *TaskGraphHandler) Status(c *gin.Context) {
	graphID, ok := graphIDParam(c)
	if !ok {
		return
	}
	summary, err := h.service.Status(c.Request.Context(), graphID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.TaskGraphResponse{TaskGraphID: graphID, Status: summary})
}

func (h *TaskGraphHandler) Inspect(c *gin.Context) {
	graphID, ok := graphIDParam(c)
	if !ok {
		return
	}
	graph, tasks, err := h.service.Inspect(c.Request.Context(), graphID)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := dto.InspectResponse{
		Graph:  dto.NewGraphInfo(graph),
		Status: status.Aggregate(tasks),
		Tasks:  make([]dto.TaskInfo, 0, len(tasks)),
	}
	for i := range tasks {
		resp.Tasks = append(resp.Tasks, dto.NewTaskInfo(&tasks[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *TaskGraphHandler) Task(c *gin.Context) {
	graphID, ok := graphIDParam(c)
	if !ok {
		return
	}
	task, err := h.service.Task(c.Request.Context(), domain.TaskRef{GraphID: graphID, TaskID: c.Param("taskId")})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTaskInfo(task))
}

// Settle releases whatever a failed create or extend left unreleased.
func (h *TaskGraphHandler) Settle(c *gin.Context) {
	graphID, ok := graphIDParam(c)
	if !ok {
		return
	}
	summary, err := h.service.Settle(c.Request.Context(), graphID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.TaskGraphResponse{TaskGraphID: graphID, Status: summary})
}

func graphIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("taskGraphId"))
	if err != nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "task graph not found"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps service errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	var (
		rej       *scheduler.Rejection
		unsettled *service.UnsettledError
	)
	switch {
	case errors.As(err, &rej):
		code := http.StatusBadRequest
		if rej.Kind() == scheduler.KindDispatchFailure {
			code = http.StatusFailedDependency
		}
		c.JSON(code, dto.RejectionResponse{
			Message: rej.Message,
			Errors:  rej.Violations,
			Input:   rej.Input,
		})
	case errors.Is(err, ports.ErrGraphNotFound), errors.Is(err, ports.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ports.ErrTaskExists):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
	case errors.As(err, &unsettled):
		ctxlog.FromContext(c.Request.Context()).Error("Task graph left unsettled", "graph", unsettled.GraphID, "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:       "task graph stored but not settled, retry POST /task-graphs/" + unsettled.GraphID.String() + "/settle",
			TaskGraphID: unsettled.GraphID.String(),
		})
	default:
		ctxlog.FromContext(c.Request.Context()).Error("Request failed", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
	}
}
