package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core/stats"
)

type statsApi struct {
	svc      *stats.Service
	validate *validator.Validate
}

func registerStatsAPI(g *echo.Group, auth echo.MiddlewareFunc, deps *Deps) {
	api := statsApi{svc: deps.StatsSvc, validate: deps.Validate}

	sg := g.Group("/stats", auth)
	sg.GET("/dashboard", api.dashboard)
	sg.GET("/attendance", api.daily)
}

func (api *statsApi) dashboard(ctx echo.Context) error {
	dash, err := api.svc.Dashboard(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "building dashboard")
	}
	return ctx.JSON(http.StatusOK, dash)
}

func (api *statsApi) daily(ctx echo.Context) error {
	var rng stats.Range
	if err := ctx.Bind(&rng); err != nil {
		return errors.Wrap(err, "binding to Range")
	}
	if err := api.validate.Struct(rng); err != nil {
		return err
	}

	days, err := api.svc.Daily(ctx.Request().Context(), rng)
	if err != nil {
		return errors.Wrap(err, "counting daily attendance")
	}
	if days == nil {
		days = []stats.DailyStat{}
	}
	return ctx.JSON(http.StatusOK, days)
}
