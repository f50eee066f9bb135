// Package promptfs implements the filesystem-fallback
// external.PromptAssembler: load a role's markdown template, one file per
// specialist role with an optional YAML frontmatter header, from a search
// path and substitute simple {{VAR}} placeholders.
package promptfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/srs-writer/agent-engine/external"
)

// frontmatter is the YAML header a role template may carry, delimited by
// "---" lines, describing metadata about the template.
type frontmatter struct {
	Description string   `yaml:"description"`
	Variables   []string `yaml:"variables"`
}

// Assembler implements external.PromptAssembler by reading
// "<searchPath>/<role>.md" for each specialist type and performing {{VAR}}
// substitution against the supplied SpecialistContext.
type Assembler struct {
	searchPaths []string
}

// New builds an Assembler that searches each path in order, returning the
// first template found for a given specialist type.
func New(searchPaths ...string) *Assembler {
	return &Assembler{searchPaths: searchPaths}
}

// AssembleSpecialistPrompt implements external.PromptAssembler.
func (a *Assembler) AssembleSpecialistPrompt(ctx context.Context, t external.SpecialistType, c external.SpecialistContext) (string, error) {
	raw, err := a.loadTemplate(t.Name)
	if err != nil {
		return "", err
	}
	_, body, err := splitFrontmatter(raw)
	if err != nil {
		return "", fmt.Errorf("promptfs: parsing frontmatter for %q: %w", t.Name, err)
	}
	return substitute(body, t, c), nil
}

func (a *Assembler) loadTemplate(role string) (string, error) {
	var lastErr error
	for _, dir := range a.searchPaths {
		path := filepath.Join(dir, role+".md")
		data, err := os.ReadFile(path) // #nosec G304 -- role name is a closed set of registered specialists
		if err == nil {
			return string(data), nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no search paths configured")
	}
	return "", fmt.Errorf("promptfs: no template found for role %q: %w", role, lastErr)
}

// splitFrontmatter separates a leading "---\n...\n---\n" YAML header from
// the template body. A file without a header is returned as-is.
func splitFrontmatter(raw string) (frontmatter, string, error) {
	var fm frontmatter
	if !strings.HasPrefix(raw, "---\n") {
		return fm, raw, nil
	}
	rest := raw[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return fm, raw, nil
	}
	header := rest[:end]
	body := rest[end+len("\n---\n"):]
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return fm, "", err
	}
	return fm, body, nil
}

// substitute performs {{VAR}} replacement for the placeholders listed
// below. A listed placeholder whose value the caller's context cannot
// supply is replaced with the empty string; any other {{VAR}} placeholder
// is left in the body unchanged.
func substitute(body string, t external.SpecialistType, c external.SpecialistContext) string {
	now := time.Now()
	replacer := strings.NewReplacer(
		"{{INITIAL_USER_REQUEST}}", c.UserRequirements,
		"{{CURRENT_STEP_DESCRIPTION}}", c.StructuredContext.CurrentStep,
		"{{EXPECTED_OUTPUT}}", metadataString(c, "expectedOutput"),
		"{{DEPENDENT_RESULTS}}", renderDependentResults(c.StructuredContext.DependentResults),
		"{{INTERNAL_HISTORY}}", strings.Join(c.StructuredContext.InternalHistory, "\n"),
		"{{PROJECT_NAME}}", metadataString(c, "projectName"),
		"{{BASE_DIR}}", metadataString(c, "baseDir"),
		"{{TIMESTAMP}}", now.Format(time.RFC3339),
		"{{DATE}}", now.Format("2006-01-02"),
		"{{SPECIALIST_NAME}}", t.Name,
	)
	return replacer.Replace(body)
}

func metadataString(c external.SpecialistContext, key string) string {
	if v, ok := c.ProjectMetadata[key].(string); ok {
		return v
	}
	return ""
}

func renderDependentResults(results map[string]any) string {
	if len(results) == 0 {
		return ""
	}
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, results[k])
	}
	return b.String()
}
