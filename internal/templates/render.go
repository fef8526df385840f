package templates

import (
	"fmt"
	"maps"
	"strings"
)

// Variables maps placeholder names to values.
type Variables map[string]string

// Merge layers the given records left to right; later values win.
func Merge(layers ...Variables) Variables {
	out := make(Variables)
	for _, l := range layers {
		maps.Copy(out, l)
	}
	return out
}

// Rendered is the content produced from a template.
type Rendered struct {
	Subject string
	Body    string
}

// MissingVariablesError reports placeholders that had no value.
type MissingVariablesError struct {
	Template string
	Names    []string
}

func (e *MissingVariablesError) Error() string {
	return fmt.Sprintf("template %s: missing variables: %s", e.Template, strings.Join(e.Names, ", "))
}

// Render substitutes vars into the template. Rendering fails if any
// placeholder has no value, so no output ever carries raw markers.
func Render(t Template, vars Variables) (Rendered, error) {
	var missing []string
	for _, name := range t.Placeholders() {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Rendered{}, &MissingVariablesError{Template: t.Name, Names: missing}
	}

	return Rendered{
		Subject: substitute(t.Subject, vars),
		Body:    substitute(t.Body, vars),
	}, nil
}

func substitute(pattern string, vars Variables) string {
	return placeholderRe.ReplaceAllStringFunc(pattern, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		return vars[name]
	})
}
