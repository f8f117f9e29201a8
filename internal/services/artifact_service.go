package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"agentforge/internal/models"
	"agentforge/internal/security"
)

const (
	buildsDirName    = "codegen-builds"
	metadataFileName = models.BuildMetadataFile
	readmeFileName   = "README.md"
)

// ErrBuildNotFound is returned when a build directory or its metadata is missing
var ErrBuildNotFound = errors.New("build not found")

// BuildDirInfo describes one build directory on disk
type BuildDirInfo struct {
	BuildID   string
	SessionID string // empty when metadata.json is missing or unreadable
	ModTime   time.Time
}

// ArtifactService stores generated files under <storageDir>/codegen-builds/<buildId>/
type ArtifactService struct {
	root string
}

// NewArtifactService creates the builds directory if needed
func NewArtifactService(storageDir string) (*ArtifactService, error) {
	root := filepath.Join(storageDir, buildsDirName)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create builds directory: %w", err)
	}

	log.Printf("📁 [ARTIFACTS] Build storage at %s", root)
	return &ArtifactService{root: root}, nil
}

// Root returns the directory holding every build
func (s *ArtifactService) Root() string {
	return s.root
}

func (s *ArtifactService) buildDir(buildID string) (string, error) {
	if err := security.ValidateBuildID(buildID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, buildID), nil
}

// Save writes every file plus metadata.json and returns the build directory.
// Paths are sanitized first so a bad path fails the whole build before anything is written.
func (s *ArtifactService) Save(ctx context.Context, meta *models.BuildMetadata, files []models.BuildFile) (string, error) {
	dir, err := s.buildDir(meta.BuildID)
	if err != nil {
		return "", err
	}

	cleaned := make([]string, len(files))
	seen := make(map[string]bool, len(files))
	for i, f := range files {
		p, err := security.SanitizeRelativePath(f.Path)
		if err != nil {
			return "", fmt.Errorf("rejected generated file: %w", err)
		}
		if p == metadataFileName {
			return "", fmt.Errorf("rejected generated file: %s is reserved", metadataFileName)
		}
		if seen[p] {
			return "", fmt.Errorf("rejected generated file: duplicate path %s", p)
		}
		seen[p] = true
		cleaned[i] = p
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create build directory: %w", err)
	}

	infos := make([]models.BuildFileInfo, 0, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			os.RemoveAll(dir)
			return "", err
		}

		target := filepath.Join(dir, filepath.FromSlash(cleaned[i]))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("failed to create directory for %s: %w", cleaned[i], err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0644); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("failed to write %s: %w", cleaned[i], err)
		}
		infos = append(infos, models.BuildFileInfo{Path: cleaned[i], Language: f.Language})
	}

	meta.Files = infos
	meta.FileCount = len(infos)

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to marshal build metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFileName), data, 0644); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to write build metadata: %w", err)
	}

	log.Printf("✅ [ARTIFACTS] Saved build %s for session %s (%d files)", meta.BuildID, meta.SessionID, len(infos))
	return dir, nil
}

// LoadMetadata reads metadata.json of a build
func (s *ArtifactService) LoadMetadata(buildID string) (*models.BuildMetadata, error) {
	dir, err := s.buildDir(buildID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, metadataFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrBuildNotFound
		}
		return nil, fmt.Errorf("failed to read build metadata: %w", err)
	}

	var meta models.BuildMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode build metadata: %w", err)
	}
	return &meta, nil
}

// LoadReadme returns the README.md of a build, or "" when the build has none
func (s *ArtifactService) LoadReadme(buildID string) (string, error) {
	dir, err := s.buildDir(buildID)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(dir, readmeFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read README: %w", err)
	}
	return string(data), nil
}

// Delete removes a build directory. Deleting a missing build is not an error.
func (s *ArtifactService) Delete(buildID string) error {
	dir, err := s.buildDir(buildID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete build %s: %w", buildID, err)
	}
	log.Printf("🗑️  [ARTIFACTS] Deleted build %s", buildID)
	return nil
}

// List returns every build directory, oldest first. Entries that are not builds are skipped.
func (s *ArtifactService) List() ([]BuildDirInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}

	builds := make([]BuildDirInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "build-") {
			continue
		}
		if security.ValidateBuildID(entry.Name()) != nil {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		b := BuildDirInfo{BuildID: entry.Name(), ModTime: info.ModTime()}
		if meta, err := s.LoadMetadata(entry.Name()); err == nil {
			b.SessionID = meta.SessionID
			if !meta.GeneratedAt.IsZero() {
				b.ModTime = meta.GeneratedAt
			}
		}
		builds = append(builds, b)
	}

	sort.Slice(builds, func(i, j int) bool {
		return builds[i].ModTime.Before(builds[j].ModTime)
	})
	return builds, nil
}
