package api

import (
	"context"
	"errors"
	"net/http"

	"LendPulse/internal/middleware"
	"LendPulse/internal/usecase"
	xhttp "LendPulse/pkg/http"
	xlogger "LendPulse/pkg/logger"
	"LendPulse/pkg/queue"

	"github.com/labstack/echo/v4"
)

// Rate limit actions charged by the routes.
const (
	ActionAccountRead = "account_read"
	ActionMarketRead  = "market_read"
	ActionRefresh     = "refresh"
	ActionAdmin       = "admin"
)

// AccountReader is the read path the handlers serve.
type AccountReader interface {
	Networks() []uint64
	GetAccountState(ctx context.Context, address string, networkID uint64) (*usecase.AccountView, error)
	GetPositions(ctx context.Context, address string, networkID uint64) (*usecase.PositionsView, error)
	GetReserves(ctx context.Context, networkID uint64) (*usecase.ReservesView, error)
	RequestRefresh(ctx context.Context, address string, networkID uint64) (*queue.Job, error)
}

// QueueInspector exposes queue counters.
type QueueInspector interface {
	HasQueue(name string) bool
	Stats(ctx context.Context, name string) (queue.Stats, error)
}

type accountRequest struct {
	NetworkID uint64 `param:"networkId" validate:"required"`
	Address   string `param:"address" validate:"required,eth_addr"`
}

type networkRequest struct {
	NetworkID uint64 `param:"networkId" validate:"required"`
}

type queueRequest struct {
	Queue string `param:"queue" validate:"required"`
}

type refreshResponse struct {
	JobID string `json:"jobId"`
	Queue string `json:"queue"`
	State string `json:"state"`
}

// AccountsHandler serves the lending account and market endpoints.
type AccountsHandler struct {
	logger  *xlogger.Logger
	svc     AccountReader
	queues  QueueInspector
	limiter *middleware.RateLimiter
}

// NewAccountsHandler creates the handler. queues and limiter may be nil.
func NewAccountsHandler(logger *xlogger.Logger, svc AccountReader, queues QueueInspector, limiter *middleware.RateLimiter) *AccountsHandler {
	return &AccountsHandler{logger: logger, svc: svc, queues: queues, limiter: limiter}
}

func (h *AccountsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.GET("/networks", h.Networks, h.limit(ActionMarketRead)...)
	g.GET("/networks/:networkId/accounts/:address", h.Account, h.limit(ActionAccountRead)...)
	g.GET("/networks/:networkId/accounts/:address/positions", h.Positions, h.limit(ActionAccountRead)...)
	g.POST("/networks/:networkId/accounts/:address/refresh", h.Refresh, h.limit(ActionRefresh)...)
	g.GET("/networks/:networkId/reserves", h.Reserves, h.limit(ActionMarketRead)...)
	if h.queues != nil {
		g.GET("/queues/:queue/stats", h.QueueStats, h.limit(ActionAdmin)...)
	}
}

func (h *AccountsHandler) limit(action string) []echo.MiddlewareFunc {
	if h.limiter == nil {
		return nil
	}
	return []echo.MiddlewareFunc{h.limiter.For(action)}
}

func (h *AccountsHandler) Networks(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{"networks": h.svc.Networks()})
}

func (h *AccountsHandler) Account(c echo.Context) error {
	req := &accountRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.GetAccountState(c.Request().Context(), req.Address, req.NetworkID)
	if err != nil {
		return h.fail(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

func (h *AccountsHandler) Positions(c echo.Context) error {
	req := &accountRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.GetPositions(c.Request().Context(), req.Address, req.NetworkID)
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AccountsHandler) Reserves(c echo.Context) error {
	req := &networkRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.GetReserves(c.Request().Context(), req.NetworkID)
	if err != nil {
		return h.fail(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=60")
	return xhttp.SuccessResponse(c, res)
}

func (h *AccountsHandler) Refresh(c echo.Context) error {
	req := &accountRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	job, err := h.svc.RequestRefresh(c.Request().Context(), req.Address, req.NetworkID)
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.DataResponse(c, http.StatusAccepted, refreshResponse{JobID: job.ID, Queue: job.Queue, State: string(job.State)})
}

func (h *AccountsHandler) QueueStats(c echo.Context) error {
	req := &queueRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.queues.HasQueue(req.Queue) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("queue %q not found", req.Queue))
	}
	stats, err := h.queues.Stats(c.Request().Context(), req.Queue)
	if err != nil {
		h.logger.Error("queue stats failed", xlogger.String("queue", req.Queue), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("queue backend unavailable"))
	}
	return xhttp.SuccessResponse(c, stats)
}

// fail maps use case errors to responses without leaking provider detail.
func (h *AccountsHandler) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, usecase.ErrInvalidRequest):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	case errors.Is(err, usecase.ErrUnknownNetwork):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()))
	case errors.Is(err, usecase.ErrDataUnavailable):
		return xhttp.AppErrorResponse(c, xhttp.DataUnavailableError("data temporarily unavailable").WithRetryAfter(30))
	default:
		h.logger.Error("request failed", xlogger.String("route", c.Path()), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("internal error"))
	}
}
