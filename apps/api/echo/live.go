package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	livesvc "github.com/trezcool/attendance/services/live"
)

// registerLiveAPI exposes the dashboard event feed. Browsers cannot set headers on websockets,
// so the token is passed as `?token=`.
func registerLiveAPI(g *echo.Group, wsAuth echo.MiddlewareFunc, hub *livesvc.Hub) {
	g.GET("/live", func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context claims")
		}
		if err := hub.ServeWS(ctx.Response(), ctx.Request(), claims.Subject); err != nil {
			// the upgrader already replied
			ctx.Logger().Debug(err)
		}
		return nil
	}, wsAuth)
}
