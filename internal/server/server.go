package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/farellandr/quariarbox/internal/handlers"
	"github.com/farellandr/quariarbox/internal/middleware"
	"github.com/farellandr/quariarbox/internal/models"
)

const shutdownTimeout = 15 * time.Second

// NewRouter builds the HTTP routes on top of a wired App.
func NewRouter(app *App) *gin.Engine {
	if !app.Config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(app.Logger))

	h := handlers.New(handlers.Config{
		JWTSecret:     app.Config.JWTSecret,
		SessionTTL:    app.Config.JWTTTL,
		SecureCookies: app.Config.SecureCookies(),
	}, handlers.Deps{
		DB:            app.DB,
		Payments:      app.Payments,
		Reconciler:    app.Reconciler,
		Gateway:       app.Gateway,
		Receipts:      app.Receipts,
		Notifications: app.Notifications,
		Logger:        app.Logger,
	})

	setupRoutes(r, h, app)
	return r
}

func setupRoutes(r *gin.Engine, h *handlers.Handler, app *App) {
	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := app.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	public := r.Group("/v1")
	{
		public.POST("/register", h.Register)
		public.POST("/login", h.Login)
		public.POST("/logout", h.Logout)
		public.POST("/payments/webhook", h.PaymentWebhook)
	}

	protected := r.Group("/v1")
	protected.Use(middleware.JWTAuthMiddleware(app.Config.JWTSecret))
	{
		shipments := protected.Group("/shipments")
		{
			shipments.POST("", h.CreateShipment)
			shipments.GET("/:id", h.GetShipment)
			shipments.PUT("/:id", h.UpdateShipment)
		}

		paymentsGroup := protected.Group("/payments")
		{
			paymentsGroup.GET("/verify", h.VerifyPayment)
			paymentsGroup.GET("/history", h.PaymentHistory)
			paymentsGroup.POST("/:id/initiate", h.InitiatePayment)
			paymentsGroup.GET("/receipts/:shipment_id", h.GetReceipt)
			paymentsGroup.GET("/receipts/:shipment_id/download", h.DownloadReceipt)
		}

		protected.POST("/receipts/validate",
			middleware.RoleRequired(models.RoleCourier, models.RoleAdmin),
			h.ValidateReceipt)

		notifications := protected.Group("/notifications")
		{
			notifications.GET("", h.ListNotifications)
			notifications.POST("/read", h.MarkAllNotificationsRead)
			notifications.POST("/:id/read", h.MarkNotificationRead)
			notifications.DELETE("", h.DeleteAllNotifications)
			notifications.DELETE("/:id", h.DeleteNotification)
		}
	}
}

// Start serves HTTP and runs the outbox processor until ctx is cancelled,
// then shuts both down.
func Start(ctx context.Context, app *App) error {
	httpServer := &http.Server{
		Addr:              ":" + app.Config.Port,
		Handler:           NewRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	app.Outbox.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		app.Logger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		app.Logger.Info("Shutting down application...")
	case serveErr = <-errCh:
		app.Logger.Error("HTTP server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	}
	app.Outbox.Stop()
	app.Logger.Info("Application gracefully shut down.")
	return serveErr
}
