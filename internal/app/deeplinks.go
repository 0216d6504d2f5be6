// internal/app/deeplinks.go
package app

import (
	"context"
	"errors"

	xerrors "condo-session/internal/pkg/errors"
	"condo-session/internal/service/deeplink"
	notifyService "condo-session/internal/service/notification"

	"go.uber.org/zap"
)

// registerDeepLinkRoutes installs the screens the app can be opened on.
// Everything except help pages needs a signed-in user.
func registerDeepLinkRoutes(d *deeplink.Dispatcher, inbox *notifyService.InboxService, logger *zap.Logger) {
	d.Route("/notifications/:id", true, func(ctx context.Context, m deeplink.Match) error {
		err := inbox.MarkAsRead(ctx, m.Params["id"])
		if errors.Is(err, xerrors.ErrNotFound) {
			// Pushed before it reached the inbox; the screen still opens.
			logger.Debug("deep link for unknown notification", zap.String("id", m.Params["id"]))
			return nil
		}
		return err
	})

	for _, pattern := range []string{"/notices/:id", "/bookings/:id", "/visitors/:id"} {
		d.Route(pattern, true, openScreen(logger))
	}
	d.Route("/help/*", false, openScreen(logger))
}

func openScreen(logger *zap.Logger) deeplink.RouteHandler {
	return func(_ context.Context, m deeplink.Match) error {
		logger.Info("opening screen",
			zap.String("route", m.Route),
			zap.String("path", m.Path),
			zap.Any("params", m.Params),
		)
		return nil
	}
}
