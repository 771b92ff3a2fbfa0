// Package artifact owns deterministic storage-path construction and blob
// read/write for every produced artifact: contributions, header contexts,
// seed prompts, user feedback, raw model responses.
//
// Path construction is a pure function of the identifiers involved. Re-running
// a job under a new attempt count yields a distinct path, which is the
// conflict-avoidance mechanism for crash recovery: re-execution never
// overwrites a prior attempt's output.
package artifact

import (
	"fmt"
	"path"
	"strings"

	"dialectica/internal/types"
)

// FileType selects the path shape for an artifact.
type FileType string

const (
	FileTypeDocument      FileType = "document"
	FileTypeHeaderContext FileType = "header_context"
	FileTypeRawResponse   FileType = "raw_response"
	FileTypeSeedPrompt    FileType = "seed_prompt"
	FileTypeFeedback      FileType = "feedback"
)

// PathContext carries every identifier that participates in path construction.
type PathContext struct {
	ProjectID   string
	SessionID   string
	Iteration   int
	StageSlug   string
	ModelSlug   string
	DocumentKey string
	Attempt     int
	FileType    FileType

	// SourceModelSlug names the origin model for pairwise artifacts (e.g. the
	// thesis author a critique targets). PairedModelSlug names the third
	// participant in triple combinations (e.g. the critic in pairwise
	// synthesis). Both are empty for per-model artifacts.
	SourceModelSlug string
	PairedModelSlug string
}

// ShortSessionID returns the stable 8-character prefix of a session id used
// in storage paths.
func ShortSessionID(sessionID string) string {
	s := strings.ReplaceAll(sessionID, "-", "")
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

// Sanitize normalizes an identifier for use as a path segment.
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// ConstructPath builds the storage directory and file name for an artifact.
// It validates that the context carries every identifier its file type needs.
func ConstructPath(ctx PathContext) (dir string, file string, err error) {
	if ctx.ProjectID == "" {
		return "", "", types.NewValidationError("path context missing project id")
	}
	if ctx.SessionID == "" {
		return "", "", types.NewValidationError("path context missing session id")
	}
	if ctx.Iteration < 1 {
		return "", "", types.NewValidationError("path context iteration must be >= 1, got %d", ctx.Iteration)
	}
	if ctx.StageSlug == "" {
		return "", "", types.NewValidationError("path context missing stage slug")
	}

	base := path.Join(
		"projects", Sanitize(ctx.ProjectID),
		"sessions", ShortSessionID(ctx.SessionID),
		fmt.Sprintf("iteration_%d", ctx.Iteration),
		Sanitize(ctx.StageSlug),
	)

	switch ctx.FileType {
	case FileTypeSeedPrompt:
		return base, "seed_prompt.md", nil

	case FileTypeFeedback:
		if ctx.ModelSlug == "" || ctx.DocumentKey == "" {
			return "", "", types.NewValidationError("feedback path requires model slug and document key")
		}
		return path.Join(base, "feedback", Sanitize(ctx.ModelSlug)),
			fmt.Sprintf("%s.md", Sanitize(ctx.DocumentKey)), nil

	case FileTypeDocument, FileTypeHeaderContext, FileTypeRawResponse:
		if ctx.ModelSlug == "" {
			return "", "", types.NewValidationError("%s path requires model slug", ctx.FileType)
		}
		if ctx.DocumentKey == "" {
			return "", "", types.NewValidationError("%s path requires document key", ctx.FileType)
		}
		name := Sanitize(ctx.DocumentKey)
		if ctx.SourceModelSlug != "" {
			name += "_from_" + Sanitize(ctx.SourceModelSlug)
		}
		if ctx.PairedModelSlug != "" {
			name += "_vs_" + Sanitize(ctx.PairedModelSlug)
		}
		name += fmt.Sprintf("_attempt_%d", ctx.Attempt)
		switch ctx.FileType {
		case FileTypeRawResponse:
			name += ".raw.json"
		case FileTypeHeaderContext:
			name += ".json"
		default:
			name += ".md"
		}
		return path.Join(base, Sanitize(ctx.ModelSlug)), name, nil

	default:
		return "", "", types.NewValidationError("unknown artifact file type %q", ctx.FileType)
	}
}

// AttemptFromFileName extracts the attempt count embedded in a constructed
// file name, inverting ConstructPath for document-shaped artifacts.
func AttemptFromFileName(file string) (int, bool) {
	stem := file
	stem = strings.TrimSuffix(stem, ".raw.json")
	stem = strings.TrimSuffix(stem, ".json")
	stem = strings.TrimSuffix(stem, ".md")
	idx := strings.LastIndex(stem, "_attempt_")
	if idx < 0 {
		return 0, false
	}
	var attempt int
	if _, err := fmt.Sscanf(stem[idx:], "_attempt_%d", &attempt); err != nil {
		return 0, false
	}
	return attempt, true
}
