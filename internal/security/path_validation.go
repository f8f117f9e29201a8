package security

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var buildIDPattern = regexp.MustCompile(`^build-[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$`)

// ValidateBuildID validates that a build ID is "build-<uuid>" and contains no path traversal sequences.
// Call it before using any stored or user-provided build ID in file system operations.
func ValidateBuildID(buildID string) error {
	if buildID == "" {
		return fmt.Errorf("build_id cannot be empty")
	}

	// Check for path traversal sequences
	if strings.Contains(buildID, "..") {
		return fmt.Errorf("invalid build_id: path traversal attempt detected (..)")
	}
	if strings.ContainsAny(buildID, `/\`) {
		return fmt.Errorf("invalid build_id: path separator not allowed")
	}

	if !buildIDPattern.MatchString(buildID) {
		return fmt.Errorf("invalid build_id format: expected build-<uuid> (got %q)", buildID)
	}

	return nil
}

// SanitizeRelativePath turns an agent-supplied file path into a clean slash-separated path
// that stays inside its root directory.
//
// Returns an error if the path:
//   - Is empty or only separators
//   - Is absolute (including Windows drive letters)
//   - Escapes the root through ".." segments
//   - Contains NUL bytes
func SanitizeRelativePath(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("invalid path %q: NUL byte", p)
	}

	normalized := strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	if normalized == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if strings.HasPrefix(normalized, "/") {
		return "", fmt.Errorf("invalid path %q: absolute paths are not allowed", p)
	}
	if len(normalized) >= 2 && normalized[1] == ':' {
		return "", fmt.Errorf("invalid path %q: drive letters are not allowed", p)
	}

	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return "", fmt.Errorf("invalid path %q: path traversal attempt detected (..)", p)
		}
	}

	cleaned := path.Clean(normalized)
	if cleaned == "." {
		return "", fmt.Errorf("path cannot be empty")
	}
	return cleaned, nil
}
