package handlers

import "github.com/gofiber/fiber/v2"

// RegisterRoutes mounts the project, document and codegen session routes on api.
// invocationLimit guards the routes that start remote agent runs; nil disables it.
func RegisterRoutes(api fiber.Router, sessions *CodegenSessionHandler, projects *ProjectHandler, invocationLimit fiber.Handler) {
	if invocationLimit == nil {
		invocationLimit = func(c *fiber.Ctx) error { return c.Next() }
	}

	api.Post("/projects", projects.CreateProject)
	api.Get("/projects", projects.ListProjects)
	api.Get("/projects/:id", projects.GetProject)
	api.Get("/projects/:id/sessions", sessions.ListByProject)

	api.Post("/documents", projects.CreateDocument)
	api.Get("/documents/:id", projects.GetDocument)

	api.Get("/sessions", sessions.List)
	api.Post("/sessions", sessions.Create)
	api.Get("/sessions/:id", sessions.Get)
	api.Delete("/sessions/:id", sessions.Delete)
	api.Post("/sessions/:id/plan", invocationLimit, sessions.CreatePlan)
	api.Post("/sessions/:id/build", invocationLimit, sessions.Build)
	api.Post("/sessions/:id/chat", invocationLimit, sessions.Chat)
}
