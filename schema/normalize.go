package schema

import (
	"strings"
	"unicode"
)

// NormalizeModelID validates and normalizes a model identifier.
// Allowed characters: A-Z, a-z, 0-9, '.', '_', '-'.
func NormalizeModelID(model string) (ModelID, error) {
	trimmed := strings.TrimSpace(model)
	if trimmed == "" {
		return "", ErrInvalidModel
	}
	for _, r := range trimmed {
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return "", ErrInvalidModel
	}
	return ModelID(trimmed), nil
}

// ValidateWorkspaceID ensures a workspace id is non-empty, has no surrounding
// whitespace, and matches [A-Za-z0-9._-].
func ValidateWorkspaceID(id WorkspaceID) error {
	raw := string(id)
	if raw == "" {
		return ErrInvalidWorkspace
	}
	if strings.TrimSpace(raw) != raw {
		return ErrInvalidWorkspace
	}
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		return ErrInvalidWorkspace
	}
	return nil
}
