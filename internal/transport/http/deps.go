package http

import (
	"github.com/clinic-notify/internal/application/campaign"
	"github.com/clinic-notify/internal/application/event"
	"github.com/clinic-notify/internal/application/notification"
	"github.com/clinic-notify/internal/application/stats"
	"github.com/clinic-notify/internal/application/template"
	"go.uber.org/zap"
)

// Deps holds the application services the router exposes.
type Deps struct {
	Templates     template.Service
	Notifications notification.Service
	Campaigns     campaign.Service
	Stats         stats.Service
	Events        event.Service
	Logger        *zap.Logger
}
