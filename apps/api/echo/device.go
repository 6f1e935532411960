package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core/device"
)

type deviceApi struct {
	svc      *device.Service
	validate *validator.Validate
}

// Devices are managed by admins only. Devices themselves talk to the telemetry gRPC service.
func registerDeviceAPI(g *echo.Group, auth, admin echo.MiddlewareFunc, deps *Deps) {
	api := deviceApi{svc: deps.DeviceSvc, validate: deps.Validate}

	dvg := g.Group("/devices", auth, admin)
	dvg.GET("", api.query)
	dvg.POST("", api.create)
	dvg.GET("/summary", api.summary)
	dvg.GET("/settings", api.getSettings)
	dvg.PUT("/settings", api.updateSettings)

	dg := dvg.Group("/:id", objectMiddleware(func(ctx context.Context, id string) (interface{}, error) {
		return api.svc.GetByID(ctx, id)
	}))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
	dg.POST("/restart", api.restart)
	dg.POST("/rotate-key", api.rotateKey)
	dg.GET("/metrics", api.metrics)
}

func (api *deviceApi) create(ctx echo.Context) error {
	var data device.NewDevice
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewDevice")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	dev, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating device")
	}
	return ctx.JSON(http.StatusCreated, dev)
}

func (api *deviceApi) query(ctx echo.Context) error {
	var filter device.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []device.Device{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	devices, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying devices")
	}
	if devices == nil {
		devices = []device.Device{}
	}
	return ctx.JSON(http.StatusOK, devices)
}

func (api *deviceApi) summary(ctx echo.Context) error {
	sum, err := api.svc.Summary(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "summarizing devices")
	}
	return ctx.JSON(http.StatusOK, sum)
}

func (api *deviceApi) retrieve(ctx echo.Context) error {
	dev, ok := ctx.Get(contextObjectKey).(device.Device)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving device from context")
	}
	return ctx.JSON(http.StatusOK, dev)
}

func (api *deviceApi) update(ctx echo.Context) error {
	dev, ok := ctx.Get(contextObjectKey).(device.Device)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving device from context")
	}

	var data device.NewDevice
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewDevice")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	dev, err := api.svc.Update(ctx.Request().Context(), dev, data)
	if err != nil {
		return errors.Wrap(err, "updating device")
	}
	return ctx.JSON(http.StatusOK, dev)
}

func (api *deviceApi) destroy(ctx echo.Context) error {
	dev, ok := ctx.Get(contextObjectKey).(device.Device)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving device from context")
	}
	if err := api.svc.Delete(ctx.Request().Context(), dev.ID); err != nil {
		return errors.Wrap(err, "deleting device")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *deviceApi) restart(ctx echo.Context) error {
	dev, ok := ctx.Get(contextObjectKey).(device.Device)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving device from context")
	}
	dev, err := api.svc.Restart(ctx.Request().Context(), dev)
	if err != nil {
		return errors.Wrap(err, "restarting device")
	}
	return ctx.JSON(http.StatusAccepted, dev)
}

func (api *deviceApi) rotateKey(ctx echo.Context) error {
	dev, ok := ctx.Get(contextObjectKey).(device.Device)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving device from context")
	}
	withKey, err := api.svc.RotateKey(ctx.Request().Context(), dev)
	if err != nil {
		return errors.Wrap(err, "rotating device key")
	}
	return ctx.JSON(http.StatusOK, withKey)
}

func (api *deviceApi) metrics(ctx echo.Context) error {
	dev, ok := ctx.Get(contextObjectKey).(device.Device)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving device from context")
	}
	since, err := timeParam(ctx, "since")
	if err != nil {
		return err
	}

	samples, err := api.svc.Metrics(ctx.Request().Context(), dev.ID, since)
	if err != nil {
		return errors.Wrap(err, "querying device metrics")
	}
	if samples == nil {
		samples = []device.MetricSample{}
	}
	return ctx.JSON(http.StatusOK, samples)
}

func (api *deviceApi) getSettings(ctx echo.Context) error {
	settings, err := api.svc.GetSettings(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "loading device settings")
	}
	return ctx.JSON(http.StatusOK, settings)
}

func (api *deviceApi) updateSettings(ctx echo.Context) error {
	var data device.Settings
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Settings")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	settings, err := api.svc.UpdateSettings(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "saving device settings")
	}
	return ctx.JSON(http.StatusOK, settings)
}
