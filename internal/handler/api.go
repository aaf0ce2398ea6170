package handler

import (
	"log/slog"

	"github.com/blogpulse/internal/service"
)

// AdminSecretHeader carries the admin password on admin-gated requests.
const AdminSecretHeader = "X-Admin-Secret"

// API bundles shared dependencies for HTTP handlers.
type API struct {
	engagement  *service.EngagementService
	posts       *service.PostService
	admin       *service.AdminService
	siteBaseURL string
	logger      *slog.Logger
}

// NewAPI constructs a handler set with shared services.
func NewAPI(engagement *service.EngagementService, posts *service.PostService, admin *service.AdminService, siteBaseURL string, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		engagement:  engagement,
		posts:       posts,
		admin:       admin,
		siteBaseURL: siteBaseURL,
		logger:      logger,
	}
}
