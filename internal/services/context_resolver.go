package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentforge/internal/agent"
	"agentforge/internal/models"
	"agentforge/internal/orchestrator"

	"github.com/patrickmn/go-cache"
)

// ErrNoSpecifications means none of a session's documents has a non-empty body
var ErrNoSpecifications = errors.New("no readable specification documents")

// SpecContextResolver loads the project and specification documents behind a session.
// A session's project and documents never change, so results are cached per session shape.
type SpecContextResolver struct {
	projects  ProjectStore
	documents DocumentStore
	cache     *cache.Cache
}

// NewSpecContextResolver creates a resolver with a short-lived cache
func NewSpecContextResolver(projects ProjectStore, documents DocumentStore) *SpecContextResolver {
	return &SpecContextResolver{
		projects:  projects,
		documents: documents,
		cache:     cache.New(10*time.Minute, 5*time.Minute),
	}
}

// Resolve returns the project name, specification bodies and source reference of a session
func (r *SpecContextResolver) Resolve(ctx context.Context, session *models.CodegenSession) (orchestrator.PlanContext, error) {
	key := session.ProjectID + "|" + strings.Join(session.DocumentIDs, ",")
	if cached, found := r.cache.Get(key); found {
		return cached.(orchestrator.PlanContext), nil
	}

	project, err := r.projects.FindByID(ctx, session.ProjectID)
	if err != nil {
		return orchestrator.PlanContext{}, fmt.Errorf("failed to load project %s: %w", session.ProjectID, err)
	}

	docs, err := r.documents.FindByIDs(ctx, session.DocumentIDs)
	if err != nil {
		return orchestrator.PlanContext{}, fmt.Errorf("failed to load documents: %w", err)
	}

	specs := make([]string, 0, len(docs))
	for _, doc := range docs {
		if body := strings.TrimSpace(doc.Body); body != "" {
			specs = append(specs, body)
		}
	}
	if len(specs) == 0 {
		return orchestrator.PlanContext{}, fmt.Errorf("session %s: %w", session.ID, ErrNoSpecifications)
	}

	pc := orchestrator.PlanContext{
		ProjectName:    project.Name,
		Specifications: specs,
		Source:         SourceRefFor(project),
	}
	r.cache.Set(key, pc, cache.DefaultExpiration)
	return pc, nil
}

// SourceRefFor points the agent at the project's repository, if it has one
func SourceRefFor(project *models.Project) *agent.SourceRef {
	if project.SourceRepository == "" {
		return nil
	}
	return &agent.SourceRef{
		Repository: project.SourceRepository,
		Ref:        project.Branch,
		Path:       project.Subdirectory,
	}
}
