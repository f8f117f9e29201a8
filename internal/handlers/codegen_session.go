package handlers

import (
	"context"
	"log"
	"strings"

	"agentforge/internal/models"
	"agentforge/internal/orchestrator"
	"agentforge/internal/services"

	"github.com/gofiber/fiber/v2"
)

// CodegenSessionHandler serves the session lifecycle: create, plan, build, chat and delete
type CodegenSessionHandler struct {
	sessions     services.SessionStore
	projects     services.ProjectStore
	documents    services.DocumentStore
	contexts     orchestrator.ContextResolver
	orchestrator *orchestrator.Orchestrator
	artifacts    *services.ArtifactService
	guard        *services.InvocationGuard
}

// NewCodegenSessionHandler creates a new session handler
func NewCodegenSessionHandler(
	sessions services.SessionStore,
	projects services.ProjectStore,
	documents services.DocumentStore,
	contexts orchestrator.ContextResolver,
	orch *orchestrator.Orchestrator,
	artifacts *services.ArtifactService,
	guard *services.InvocationGuard,
) *CodegenSessionHandler {
	return &CodegenSessionHandler{
		sessions:     sessions,
		projects:     projects,
		documents:    documents,
		contexts:     contexts,
		orchestrator: orch,
		artifacts:    artifacts,
		guard:        guard,
	}
}

// CreateSessionRequest is the body of POST /api/sessions
type CreateSessionRequest struct {
	ProjectID   string   `json:"projectId"`
	DocumentIDs []string `json:"documentIds"`
}

// CreatePlanRequest is the body of POST /api/sessions/:id/plan
type CreatePlanRequest struct {
	AdditionalContext string `json:"additionalContext"`
}

// ChatRequest is the body of POST /api/sessions/:id/chat
type ChatRequest struct {
	Message string `json:"message"`
}

// sessionDetail is a session with everything the UI shows next to it
type sessionDetail struct {
	*models.CodegenSession
	Project       *models.Project       `json:"project"`
	Documents     []models.Document     `json:"documents"`
	BuildMetadata *models.BuildMetadata `json:"buildMetadata"`
	Readme        *string               `json:"readme"`
}

// List returns all sessions, or one project's sessions
// GET /api/sessions?projectId=
func (h *CodegenSessionHandler) List(c *fiber.Ctx) error {
	var (
		sessions []models.CodegenSession
		err      error
	)
	if projectID := c.Query("projectId"); projectID != "" {
		sessions, err = h.sessions.FindByProjectID(c.UserContext(), projectID)
	} else {
		sessions, err = h.sessions.FindAll(c.UserContext())
	}
	if err != nil {
		return respondError(c, err, "Failed to fetch sessions")
	}

	return c.JSON(fiber.Map{"sessions": sessions})
}

// ListByProject returns a project's sessions
// GET /api/projects/:id/sessions
func (h *CodegenSessionHandler) ListByProject(c *fiber.Ctx) error {
	sessions, err := h.sessions.FindByProjectID(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err, "Failed to get sessions")
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

// Get returns a session with its project, documents and stored build output
// GET /api/sessions/:id
func (h *CodegenSessionHandler) Get(c *fiber.Ctx) error {
	ctx := c.UserContext()

	session, err := h.sessions.FindByID(ctx, c.Params("id"))
	if err != nil {
		return respondError(c, err, "Failed to fetch session")
	}

	detail := sessionDetail{CodegenSession: session, Documents: []models.Document{}}

	// A deleted project or document leaves the session readable
	if project, err := h.projects.FindByID(ctx, session.ProjectID); err == nil {
		detail.Project = project
	}
	if docs, err := h.documents.FindByIDs(ctx, session.DocumentIDs); err == nil {
		detail.Documents = docs
	}

	if session.Build != nil && session.Build.BuildID != "" {
		if meta, err := h.artifacts.LoadMetadata(session.Build.BuildID); err == nil {
			detail.BuildMetadata = meta
		}
		if readme, err := h.artifacts.LoadReadme(session.Build.BuildID); err == nil && readme != "" {
			detail.Readme = &readme
		}
	}

	return c.JSON(fiber.Map{"session": detail})
}

// Create starts a planning session for a project and its specification documents
// POST /api/sessions
func (h *CodegenSessionHandler) Create(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if req.ProjectID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "projectId is required",
		})
	}
	if len(req.DocumentIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "documentIds is required and must be a non-empty array",
		})
	}

	if _, err := h.projects.FindByID(ctx, req.ProjectID); err != nil {
		return respondError(c, err, "Project not found")
	}

	docs, err := h.documents.FindByIDs(ctx, req.DocumentIDs)
	if err != nil {
		return respondError(c, err, "Failed to create session")
	}
	if len(docs) != len(req.DocumentIDs) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "One or more documents not found",
		})
	}

	session, err := h.sessions.Create(ctx, req.ProjectID, req.DocumentIDs)
	if err != nil {
		return respondError(c, err, "Failed to create session")
	}

	log.Printf("✅ [CODEGEN] Created session %s for project %s (%d documents)", session.ID, req.ProjectID, len(req.DocumentIDs))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session": session})
}

// acquire loads the session under its invocation lock
func (h *CodegenSessionHandler) acquire(ctx context.Context, id string) (*models.CodegenSession, func(), error) {
	release, err := h.guard.Acquire(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	session, err := h.sessions.FindByID(ctx, id)
	if err != nil {
		release()
		return nil, nil, err
	}
	return session, release, nil
}

// CreatePlan asks the agent for an implementation plan
// POST /api/sessions/:id/plan
func (h *CodegenSessionHandler) CreatePlan(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req CreatePlanRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	session, release, err := h.acquire(ctx, c.Params("id"))
	if err != nil {
		return respondError(c, err, "Failed to create plan")
	}
	defer release()

	pc, err := h.contexts.Resolve(ctx, session)
	if err != nil {
		return respondError(c, err, "Failed to create plan")
	}
	pc.AdditionalContext = strings.TrimSpace(req.AdditionalContext)

	plan, err := h.orchestrator.CreatePlan(ctx, session, pc)
	if err != nil {
		return respondError(c, err, "Failed to create plan")
	}

	return c.JSON(fiber.Map{
		"plan":       plan,
		"agentUrl":   plan.AgentURL,
		"branchName": plan.BranchName,
		"source":     plan.Source,
	})
}

// Build runs the implementation pass and stores the generated files
// POST /api/sessions/:id/build
func (h *CodegenSessionHandler) Build(c *fiber.Ctx) error {
	ctx := c.UserContext()

	session, release, err := h.acquire(ctx, c.Params("id"))
	if err != nil {
		return respondError(c, err, "Failed to build")
	}
	defer release()

	result, err := h.orchestrator.ExecuteBuild(ctx, session)
	if err != nil {
		return respondError(c, err, "Failed to build")
	}

	updated, err := h.sessions.FindByID(ctx, session.ID)
	if err != nil {
		return respondError(c, err, "Failed to build")
	}

	resp := fiber.Map{
		"status":     result.Status,
		"message":    result.Message,
		"fileCount":  len(result.Files),
		"agentUrl":   result.AgentURL,
		"branchName": result.BranchName,
		"source":     result.Source,
	}
	if updated.Build != nil {
		resp["buildId"] = updated.Build.BuildID
		resp["storageDir"] = updated.Build.StorageDir
	}
	return c.JSON(resp)
}

// Chat answers a message about the session's plan
// POST /api/sessions/:id/chat
func (h *CodegenSessionHandler) Chat(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "message is required",
		})
	}

	session, release, err := h.acquire(ctx, c.Params("id"))
	if err != nil {
		return respondError(c, err, "Failed to process chat message")
	}
	defer release()

	reply, err := h.orchestrator.SendMessage(ctx, session, req.Message)
	if err != nil {
		return respondError(c, err, "Failed to process chat message")
	}

	return c.JSON(fiber.Map{
		"response": reply.Response,
		"source":   reply.Source,
	})
}

// Delete removes a session and its build output
// DELETE /api/sessions/:id
func (h *CodegenSessionHandler) Delete(c *fiber.Ctx) error {
	ctx := c.UserContext()

	session, release, err := h.acquire(ctx, c.Params("id"))
	if err != nil {
		return respondError(c, err, "Failed to delete session")
	}
	defer release()

	if session.Build != nil && session.Build.BuildID != "" {
		if err := h.artifacts.Delete(session.Build.BuildID); err != nil {
			// The retention job removes the directory once the session is gone
			log.Printf("⚠️  [CODEGEN] Failed to delete build %s: %v", session.Build.BuildID, err)
		}
	}

	if err := h.sessions.Delete(ctx, session.ID); err != nil {
		return respondError(c, err, "Failed to delete session")
	}

	log.Printf("🗑️  [CODEGEN] Deleted session %s", session.ID)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Session deleted successfully",
	})
}
