package api

import (
	"github.com/gin-contrib/cors"
	"github.com/wb-go/wbf/ginext"

	"campusevents/cmd/middleware"
	"campusevents/internal/service"
)

type Routers struct {
	Service service.Service
}

func NewRouters(r *Routers) *ginext.Engine {
	app := ginext.New("release")

	app.Use(middleware.LoggingMiddleware())
	app.Use(cors.Default())
	apiGroup := app.Group("/v1")

	apiGroup.POST("/colleges", r.Service.CreateCollege)
	apiGroup.POST("/students", r.Service.CreateStudent)

	apiGroup.POST("/events", r.Service.CreateEvent)
	apiGroup.GET("/events", r.Service.GetAllEvents)
	apiGroup.GET("/events/:id", r.Service.GetInfo)
	apiGroup.POST("/events/:id/register", r.Service.Register)

	apiGroup.GET("/registrations/:id", r.Service.GetRegistration)
	apiGroup.POST("/registrations/:id/cancel", r.Service.CancelRegistration)
	apiGroup.POST("/registrations/:id/checkin", r.Service.CheckIn)
	apiGroup.POST("/registrations/:id/feedback", r.Service.SubmitFeedback)

	apiGroup.POST("/reconcile", r.Service.RunReconciliation)

	return app
}
