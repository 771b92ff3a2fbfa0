package prompt

import (
	"regexp"
	"strings"
)

// TemplateEngine handles dynamic content injection in prompt templates.
// Supports simple {{variable}} substitution from a flat variable map.
type TemplateEngine struct {
	// functions may override or compute variables at render time.
	functions map[string]TemplateFunc
}

// TemplateFunc computes a template variable's value.
type TemplateFunc func(vars map[string]string) string

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// NewTemplateEngine creates a template engine.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{functions: make(map[string]TemplateFunc)}
}

// RegisterFunction adds a computed variable available to every template.
func (te *TemplateEngine) RegisterFunction(name string, fn TemplateFunc) {
	te.functions[name] = fn
}

// Process substitutes {{variable}} placeholders from vars and registered
// functions. Unknown placeholders are left intact so callers can detect them.
func (te *TemplateEngine) Process(content string, vars map[string]string) string {
	// Fast path: nothing to substitute.
	if !strings.Contains(content, "{{") {
		return content
	}
	return placeholderRe.ReplaceAllStringFunc(content, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if fn, ok := te.functions[name]; ok {
			return fn(vars)
		}
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}

// MissingVars returns the placeholder names left unresolved after Process.
func (te *TemplateEngine) MissingVars(content string, vars map[string]string) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(content, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := te.functions[name]; ok {
			continue
		}
		if _, ok := vars[name]; ok {
			continue
		}
		missing = append(missing, name)
	}
	return missing
}
