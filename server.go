package main

import (
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"lunchpick/logger"
)

// newRouter はルーティングとミドルウェアを設定した echo インスタンスを返します
func newRouter(a *App, store sessions.Store) (*echo.Echo, error) {
	renderer, err := newTemplateRenderer()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				logger.Error("request", "id", v.RequestID, "method", v.Method, "uri", v.URI,
					"status", v.Status, "latency", v.Latency, "error", v.Error)
				return nil
			}
			logger.Info("request", "id", v.RequestID, "method", v.Method, "uri", v.URI,
				"status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(session.Middleware(store))
	e.Use(a.loadIdentity)

	e.GET("/", a.indexHandler)
	e.GET("/healthz", a.healthHandler)

	auth := e.Group("/auth")
	auth.GET("/login", a.loginFormHandler)
	auth.POST("/login", a.loginHandler)
	auth.GET("/register", a.registerFormHandler)
	auth.POST("/register", a.registerHandler)
	auth.GET("/logout", a.logoutHandler)

	e.GET("/calendar", a.calendarHandler, a.requireAuth)
	e.POST("/save_lunch", a.saveLunchHandler, a.requireAuthJSON)
	e.GET("/admin", a.adminHandler, a.requireAuth, a.requireAdmin)

	return e, nil
}
