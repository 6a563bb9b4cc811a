package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tracklink/cmd/middleware"
	"tracklink/internal/service"
	"tracklink/pkg/zlog"
)

type Routers struct {
	Service service.Service
}

func NewRouters(r *Routers) *gin.Engine {
	app := gin.New()

	app.Use(gin.Recovery())
	app.Use(middleware.CORS())
	app.Use(middleware.Metrics())
	app.Use(middleware.RequestLogger(&zlog.Logger))

	app.GET("/watch", r.Service.Watch)
	app.GET("/t/:short_id", r.Service.MappedRedirect)
	app.GET("/v/:short_id", r.Service.MappedRedirect)

	apiGroup := app.Group("/api")

	apiGroup.GET("/shorten", r.Service.Shorten)
	apiGroup.GET("/tracked-ips", r.Service.TrackedVisits)
	apiGroup.GET("/links/:short_id", r.Service.LinkInfo)
	apiGroup.GET("/analytics", r.Service.Analytics)
	apiGroup.GET("/test", r.Service.Health)

	app.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return app
}
