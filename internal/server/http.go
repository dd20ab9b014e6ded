// Package server assembles the HTTP transport.
package server

import (
	"context"
	nethttp "net/http"
	"strconv"

	"FuseLane/internal/conf"
	"FuseLane/internal/server/middleware"
	"FuseLane/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(
	c *conf.Server,
	jobService *service.JobService,
	statusService *service.StatusService,
	adminService *service.AdminService,
	logger log.Logger,
) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logger),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	registerRoutes(srv, jobService, statusService, adminService)

	return srv
}

func registerRoutes(srv *http.Server, jobSvc *service.JobService, statusSvc *service.StatusService, adminSvc *service.AdminService) {
	r := srv.Route("/")

	r.POST("/v1/jobs", func(ctx http.Context) error {
		var req service.DispatchRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return jobSvc.Dispatch(c, &req)
		})
		reply, err := h(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusAccepted, reply)
	})

	r.GET("/v1/jobs/{id}", func(ctx http.Context) error {
		jobID := ctx.Vars().Get("id")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return jobSvc.GetJob(c, jobID)
		})
		reply, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, reply)
	})

	r.DELETE("/v1/jobs/{id}", func(ctx http.Context) error {
		jobID := ctx.Vars().Get("id")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return jobSvc.CancelJob(c, jobID)
		})
		reply, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, reply)
	})

	r.POST("/v1/conversations/{id}/messages", func(ctx http.Context) error {
		conversationID := ctx.Vars().Get("id")
		var req service.AppendMessageRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return jobSvc.AppendMessage(c, conversationID, &req)
		})
		reply, err := h(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusAccepted, reply)
	})

	r.GET("/v1/status", func(ctx http.Context) error {
		var degraded bool
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			reply, d := statusSvc.Status(c)
			degraded = d
			return reply, nil
		})
		reply, err := h(ctx, nil)
		if err != nil {
			return err
		}
		code := nethttp.StatusOK
		if degraded {
			code = nethttp.StatusServiceUnavailable
		}
		return ctx.Result(code, reply)
	})

	r.POST("/v1/admin/circuits/{service}/{action}", func(ctx http.Context) error {
		serviceKey := ctx.Vars().Get("service")
		action := ctx.Vars().Get("action")
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return adminSvc.ForceCircuit(c, serviceKey, action)
		})
		reply, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, reply)
	})

	r.GET("/v1/admin/dead-letters", func(ctx http.Context) error {
		jobType := ctx.Query().Get("job_type")
		limit := 0
		if raw := ctx.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				limit = n
			}
		}
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return adminSvc.ListDeadLetters(c, jobType, limit)
		})
		reply, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, reply)
	})

	r.POST("/v1/admin/dead-letters/{id}/replay", func(ctx http.Context) error {
		id, err := service.ParseDeadLetterID(ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return adminSvc.ReplayDeadLetter(c, id)
		})
		reply, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusAccepted, reply)
	})

	r.DELETE("/v1/admin/dead-letters/{id}", func(ctx http.Context) error {
		id, err := service.ParseDeadLetterID(ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return nil, adminSvc.PurgeDeadLetter(c, id)
		})
		if _, err := h(ctx, nil); err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusNoContent, nil)
	})

	r.GET("/v1/admin/recommendations", func(ctx http.Context) error {
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return adminSvc.Recommendations(c), nil
		})
		reply, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, reply)
	})
}
