package handlers

import (
	"log"
	"strings"

	"agentforge/internal/models"
	"agentforge/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ProjectHandler handles project and specification document requests
type ProjectHandler struct {
	projects  services.ProjectStore
	documents services.DocumentStore
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(projects services.ProjectStore, documents services.DocumentStore) *ProjectHandler {
	return &ProjectHandler{projects: projects, documents: documents}
}

// CreateProjectRequest is the body of POST /api/projects
type CreateProjectRequest struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	SourceRepository string `json:"sourceRepository"`
	Branch           string `json:"branch"`
	Subdirectory     string `json:"subdirectory"`
}

// CreateDocumentRequest is the body of POST /api/documents
type CreateDocumentRequest struct {
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}

// CreateProject creates a project
// POST /api/projects
func (h *ProjectHandler) CreateProject(c *fiber.Ctx) error {
	var req CreateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if strings.TrimSpace(req.Name) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name is required",
		})
	}

	project := &models.Project{
		Name:             req.Name,
		Description:      req.Description,
		SourceRepository: req.SourceRepository,
		Branch:           req.Branch,
		Subdirectory:     req.Subdirectory,
	}
	if err := h.projects.Create(c.UserContext(), project); err != nil {
		return respondError(c, err, "Failed to create project")
	}

	log.Printf("✅ [PROJECTS] Created project %s (%s)", project.ID, project.Name)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"project": project})
}

// ListProjects returns every project
// GET /api/projects
func (h *ProjectHandler) ListProjects(c *fiber.Ctx) error {
	projects, err := h.projects.FindAll(c.UserContext())
	if err != nil {
		return respondError(c, err, "Failed to fetch projects")
	}
	return c.JSON(fiber.Map{"projects": projects})
}

// GetProject returns a project
// GET /api/projects/:id
func (h *ProjectHandler) GetProject(c *fiber.Ctx) error {
	project, err := h.projects.FindByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err, "Failed to fetch project")
	}
	return c.JSON(fiber.Map{"project": project})
}

// CreateDocument attaches a specification document to a project
// POST /api/documents
func (h *ProjectHandler) CreateDocument(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req CreateDocumentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.Body) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "projectId and body are required",
		})
	}

	if _, err := h.projects.FindByID(ctx, req.ProjectID); err != nil {
		return respondError(c, err, "Project not found")
	}

	doc := &models.Document{ProjectID: req.ProjectID, Title: req.Title, Body: req.Body}
	if err := h.documents.Create(ctx, doc); err != nil {
		return respondError(c, err, "Failed to create document")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"document": doc})
}

// GetDocument returns a document
// GET /api/documents/:id
func (h *ProjectHandler) GetDocument(c *fiber.Ctx) error {
	doc, err := h.documents.FindByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err, "Failed to fetch document")
	}
	return c.JSON(fiber.Map{"document": doc})
}
