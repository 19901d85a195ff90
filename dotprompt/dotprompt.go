// Package dotprompt inspects Dotprompt template bodies: YAML frontmatter
// carrying model selection and generation config, followed by the literal
// prompt text with {{variable}} placeholders.
package dotprompt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Parsed is the gallery's view of a template body.  The body is always
// present; frontmatter fields are zero when the template carries none or it
// could not be parsed.
type Parsed struct {
	Model     string
	Config    map[string]any
	Body      string
	Variables []string
}

type frontmatter struct {
	Model  string         `yaml:"model"`
	Config map[string]any `yaml:"config"`
	Input  struct {
		Schema map[string]any `yaml:"schema"`
	} `yaml:"input"`
}

const frontmatterDelimiter = "---"

var variablePattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

// Parse splits a template into frontmatter and prompt body.  A template with
// malformed or missing frontmatter degrades to body-only; Parse never fails,
// so a save path is never blocked on template syntax.
func Parse(template string) *Parsed {
	fmText, body, ok := splitFrontmatter(template)
	parsed := &Parsed{
		Body:      body,
		Variables: Variables(body),
	}
	if !ok {
		return parsed
	}

	fm := frontmatter{}
	if err := yaml.Unmarshal([]byte(fmText), &fm); err != nil {
		// Malformed frontmatter: treat the whole template as body.
		parsed.Body = template
		parsed.Variables = Variables(template)
		return parsed
	}

	parsed.Model = fm.Model
	parsed.Config = fm.Config
	return parsed
}

// splitFrontmatter returns the frontmatter text and the remaining body.  The
// frontmatter must open on the first line with "---" and close with another
// "---" line.
func splitFrontmatter(template string) (fm, body string, ok bool) {
	rest, found := strings.CutPrefix(template, frontmatterDelimiter+"\n")
	if !found {
		return "", template, false
	}

	fm, body, found = strings.Cut(rest, "\n"+frontmatterDelimiter+"\n")
	if !found {
		// Unterminated frontmatter block.
		return "", template, false
	}

	return fm, body, true
}

// Variables returns the sorted, deduplicated set of {{variable}} names
// referenced by a prompt body.
func Variables(body string) []string {
	seen := map[string]bool{}
	for _, m := range variablePattern.FindAllStringSubmatch(body, -1) {
		seen[m[1]] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateVariables checks run variables against a template's declared JSON
// input schema.  An empty schema accepts anything.
func ValidateVariables(schemaJSON string, variables map[string]any) error {
	if strings.TrimSpace(schemaJSON) == "" {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("input-schema.json", strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("while loading input schema: %w", err)
	}
	schema, err := compiler.Compile("input-schema.json")
	if err != nil {
		return fmt.Errorf("while compiling input schema: %w", err)
	}

	// Validate wants plain decoded JSON; normalize a nil map so that schemas
	// with no required fields accept a variable-free run.
	var doc any = map[string]any{}
	if variables != nil {
		doc = variables
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("input variables do not match the declared schema: %w", err)
	}
	return nil
}
