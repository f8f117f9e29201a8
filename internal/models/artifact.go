package models

import "time"

// BuildMetadataFile is the reserved name of the metadata file inside a build directory
const BuildMetadataFile = "metadata.json"

// BuildFileInfo lists a generated file without its body
type BuildFileInfo struct {
	Path     string `json:"path"`
	Language string `json:"language"`
}

// BuildMetadata is written next to the generated files of every build
type BuildMetadata struct {
	BuildID     string          `json:"buildId"`
	SessionID   string          `json:"sessionId"`
	ProjectID   string          `json:"projectId"`
	ProjectName string          `json:"projectName"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Status      BuildStatus     `json:"status"`
	Message     string          `json:"message"`
	FileCount   int             `json:"fileCount"`
	AgentURL    string          `json:"agentUrl,omitempty"`
	BranchName  string          `json:"branchName,omitempty"`
	Source      ResultSource    `json:"source"`
	Files       []BuildFileInfo `json:"files"`
}
