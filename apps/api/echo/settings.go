package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core/settings"
	"github.com/trezcool/attendance/core/user"
)

type settingsApi struct {
	svc      *settings.Service
	usrSvc   *user.Service
	validate *validator.Validate
}

func registerSettingsAPI(g *echo.Group, auth, admin echo.MiddlewareFunc, deps *Deps) {
	api := settingsApi{svc: deps.SettingsSvc, usrSvc: deps.UserSvc, validate: deps.Validate}

	sg := g.Group("/settings", auth)
	sg.GET("", api.retrieve)
	sg.PUT("", api.update)
	sg.PUT("/password", api.changePassword)
	sg.GET("/system", api.retrieveSystem, admin)
	sg.PUT("/system", api.updateSystem, admin)
}

func (api *settingsApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	us, err := api.svc.ForUser(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "loading user settings")
	}
	return ctx.JSON(http.StatusOK, us)
}

func (api *settingsApi) update(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data settings.UserSettings
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UserSettings")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	us, err := api.svc.SaveForUser(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "saving user settings")
	}
	return ctx.JSON(http.StatusOK, us)
}

func (api *settingsApi) changePassword(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data user.ChangePassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChangePassword")
	}
	if err := data.Validate(usr, api.validate); err != nil {
		return err
	}

	if _, err := api.usrSvc.ChangePassword(ctx.Request().Context(), usr, data); err != nil {
		return errors.Wrap(err, "changing password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been changed."})
}

func (api *settingsApi) retrieveSystem(ctx echo.Context) error {
	ss, err := api.svc.System(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "loading system settings")
	}
	return ctx.JSON(http.StatusOK, ss)
}

func (api *settingsApi) updateSystem(ctx echo.Context) error {
	var data settings.SystemSettings
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SystemSettings")
	}

	ss, err := api.svc.SaveSystem(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "saving system settings")
	}
	return ctx.JSON(http.StatusOK, ss)
}
