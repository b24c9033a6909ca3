package api

import (
	"net/http"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/lagrangedao/go-c2d-flow/internal/runs"
	"github.com/lagrangedao/go-c2d-flow/util"
	"golang.org/x/xerrors"
)

func flowManager(router *gin.RouterGroup, manager *runs.Manager) {
	h := &flowHandler{manager: manager}
	router.POST("", h.submit)
	router.GET("", h.list)
	router.GET("/:id", h.get)
	router.GET("/:id/events", h.events)
}

type flowHandler struct {
	manager *runs.Manager
}

func (h *flowHandler) submit(c *gin.Context) {
	run, err := h.manager.Submit(c.Request.Context())
	if err != nil {
		logs.GetLogger().Errorf("failed submit flow, error: %+v", err)
		c.JSON(http.StatusInternalServerError, util.CreateErrorResponse(util.FlowSubmitError, err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, util.CreateSuccessResponse(run))
}

func (h *flowHandler) list(c *gin.Context) {
	list, err := h.manager.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, util.CreateErrorResponse(util.ServerError, err.Error()))
		return
	}
	if list == nil {
		list = []*models.FlowRun{}
	}
	c.JSON(http.StatusOK, util.CreateSuccessResponse(list))
}

func (h *flowHandler) get(c *gin.Context) {
	id, ok := runId(c)
	if !ok {
		return
	}
	run, err := h.manager.Get(id)
	if err != nil {
		writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, util.CreateSuccessResponse(run))
}

// events streams the run's progress over a websocket until the run finishes.
func (h *flowHandler) events(c *gin.Context) {
	id, ok := runId(c)
	if !ok {
		return
	}
	events, cancel, err := h.manager.Subscribe(id)
	if err != nil {
		writeLookupError(c, err)
		return
	}
	defer cancel()

	conn, err := upgrade.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logs.GetLogger().Errorf("failed upgrade event stream of run %s, error: %+v", id, err)
		return
	}
	NewWsClient(conn).HandleFlowEvents(events)
}

func runId(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, util.CreateErrorResponse(util.FlowParamError, "invalid run id: "+id))
		return "", false
	}
	return id, true
}

func writeLookupError(c *gin.Context, err error) {
	if xerrors.Is(err, runs.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, util.CreateErrorResponse(util.NotFound, err.Error()))
		return
	}
	c.JSON(http.StatusInternalServerError, util.CreateErrorResponse(util.ServerError, err.Error()))
}
