package echoapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core/attendance"
)

type attendanceApi struct {
	svc      *attendance.Service
	validate *validator.Validate
}

func registerAttendanceAPI(g *echo.Group, auth, admin echo.MiddlewareFunc, deps *Deps) {
	api := attendanceApi{svc: deps.AttendanceSvc, validate: deps.Validate}

	ag := g.Group("/attendance", auth)
	ag.GET("", api.query)
	ag.GET("/export", api.export)
	ag.POST("/claim", api.claim)
	ag.POST("/mark-absent", api.markAbsent)

	dg := ag.Group("/:id", objectMiddleware(func(ctx context.Context, id string) (interface{}, error) {
		return api.svc.GetByID(ctx, id)
	}))
	dg.GET("", api.retrieve)
	dg.PATCH("/verify", api.verify)
	dg.DELETE("", api.destroy, admin)
}

func (api *attendanceApi) claim(ctx echo.Context) error {
	var data attendance.NewClaim
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClaim")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	rec, err := api.svc.Claim(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "claiming attendance")
	}
	return ctx.JSON(http.StatusCreated, rec)
}

func (api *attendanceApi) markAbsent(ctx echo.Context) error {
	var data attendance.NewAbsence
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAbsence")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	rec, err := api.svc.MarkAbsent(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "marking absent")
	}
	return ctx.JSON(http.StatusCreated, rec)
}

// filterRecords runs the query described by the request's query params.
func (api *attendanceApi) filterRecords(ctx echo.Context) ([]attendance.Record, error) {
	var filter attendance.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return nil, errors.Wrap(err, "binding to QueryFilter")
	}
	if err := filter.Validate(api.validate); err != nil {
		return nil, err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	records, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return nil, errors.Wrap(err, "querying records")
	}
	if records == nil {
		records = []attendance.Record{}
	}
	return records, nil
}

func (api *attendanceApi) query(ctx echo.Context) error {
	records, err := api.filterRecords(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *attendanceApi) export(ctx echo.Context) error {
	records, err := api.filterRecords(ctx)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := attendance.WriteCSV(&buf, records); err != nil {
		return errors.Wrap(err, "writing csv")
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", attendance.ExportFilename(time.Now())))
	return ctx.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (api *attendanceApi) retrieve(ctx echo.Context) error {
	rec, ok := ctx.Get(contextObjectKey).(attendance.Record)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving record from context")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *attendanceApi) verify(ctx echo.Context) error {
	rec, ok := ctx.Get(contextObjectKey).(attendance.Record)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving record from context")
	}

	var data attendance.Review
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Review")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	rec, err = api.svc.Verify(ctx.Request().Context(), claims.Subject, rec, data.Action)
	if err != nil {
		return errors.Wrap(err, "verifying record")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *attendanceApi) destroy(ctx echo.Context) error {
	rec, ok := ctx.Get(contextObjectKey).(attendance.Record)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving record from context")
	}
	if err := api.svc.Delete(ctx.Request().Context(), rec.ID); err != nil {
		return errors.Wrap(err, "deleting record")
	}
	return ctx.NoContent(http.StatusNoContent)
}
