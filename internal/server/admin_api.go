package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"wired/internal/transfer"
)

// AdminAPI is the out-of-band HTTP surface (health check, live stats,
// metrics) that runs on its own TCP port alongside the control listener,
// never speaking the framed wire protocol itself (§2.2).
//
// Grounded on the teacher's APIServer (api.go): same echo.Echo
// construction (HideBanner/HidePort, request-logger + Recover
// middleware, a JSON error handler), same route/handler shape, adapted
// from room/channel/client counts to this server's session/transfer/
// account counters.
type AdminAPI struct {
	s    *Server
	echo *echo.Echo
}

// NewAdminAPI constructs the admin HTTP surface and registers its routes.
func NewAdminAPI(s *Server) *AdminAPI {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.Log.Info("[admin] request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = adminJSONErrorHandler

	a := &AdminAPI{s: s, echo: e}
	a.registerRoutes()
	return a
}

func (a *AdminAPI) registerRoutes() {
	a.echo.GET("/health", a.handleHealth)
	a.echo.GET("/api/stats", a.handleStats)
	a.echo.GET("/api/metrics", a.handleMetrics)
	a.echo.GET("/api/version", a.handleVersion)
}

// Run starts the admin HTTP listener on addr and blocks until ctx is
// canceled, shutting down gracefully the way the teacher's APIServer.Run
// does.
func (a *AdminAPI) Run(ctx context.Context, addr string) {
	go func() {
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			a.s.Log.Warn("[admin] server error", "error", err)
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutCtx); err != nil {
		a.s.Log.Warn("[admin] shutdown", "error", err)
	}
}

// healthResponse is the payload for GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (a *AdminAPI) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Clients: a.s.Users.Count(),
	})
}

// statsResponse is the payload for GET /api/stats.
type statsResponse struct {
	Name              string `json:"name"`
	Clients           int    `json:"clients"`
	ActiveDownloads   int    `json:"active_downloads"`
	ActiveUploads     int    `json:"active_uploads"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
}

func (a *AdminAPI) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, statsResponse{
		Name:            a.s.Config.Name,
		Clients:         a.s.Users.Count(),
		ActiveDownloads: a.s.activeTransferCount(transfer.Download),
		ActiveUploads:   a.s.activeTransferCount(transfer.Upload),
		UptimeSeconds:   int64(time.Since(a.s.startAt).Seconds()),
	})
}

// metricsResponse is the payload for GET /api/metrics.
type metricsResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (a *AdminAPI) handleMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, metricsResponse{
		Status:  "ok",
		Clients: a.s.Users.Count(),
	})
}

type versionResponse struct {
	Version string `json:"version"`
}

func (a *AdminAPI) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, versionResponse{Version: serverVersion})
}

// serverVersion is reported by the admin API; the CLI's version
// subcommand prints its own constant.
const serverVersion = "0.1.0"

// adminJSONErrorHandler keeps every admin API error response a consistent
// {"error": "message"} JSON body, the same reasoning as the teacher's
// jsonErrorHandler.
func adminJSONErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			c.NoContent(code) //nolint:errcheck
		} else {
			c.JSON(code, map[string]string{"error": msg}) //nolint:errcheck
		}
	}
}
