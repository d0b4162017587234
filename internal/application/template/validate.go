package template

import (
	"fmt"
	"sort"
	"strings"

	"github.com/clinic-notify/internal/application/render"
	"github.com/clinic-notify/internal/domain"
)

// Validate checks a template before it is saved. Structural problems and
// undeclared placeholders are errors wrapping domain.ErrInvalidTemplate;
// declared variables that no body references come back as warnings.
func Validate(t *domain.Template) ([]string, error) {
	var problems []string
	if t.Name == "" {
		problems = append(problems, "name is required")
	}
	if !t.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown type %q", t.Type))
	}
	if len(t.Channels) == 0 {
		problems = append(problems, "at least one channel is required")
	}
	seenCh := map[domain.Channel]bool{}
	for _, ch := range t.Channels {
		switch {
		case !ch.Valid():
			problems = append(problems, fmt.Sprintf("unknown channel %q", ch))
		case seenCh[ch]:
			problems = append(problems, fmt.Sprintf("channel %s listed twice", ch))
		case t.Content.BodyFor(ch) == "":
			problems = append(problems, fmt.Sprintf("channel %s has no body", ch))
		}
		seenCh[ch] = true
	}

	declared := map[string]bool{}
	for _, v := range t.Variables {
		switch {
		case !render.NameRe.MatchString(v.Name):
			problems = append(problems, fmt.Sprintf("variable name %q is not well-formed", v.Name))
		case declared[v.Name]:
			problems = append(problems, fmt.Sprintf("variable %q declared twice", v.Name))
		case !v.Type.Valid():
			problems = append(problems, fmt.Sprintf("variable %q has unknown type %q", v.Name, v.Type))
		case v.Default != nil && *v.Default != "":
			if err := render.CheckValue(v.Type, *v.Default); err != nil {
				problems = append(problems, fmt.Sprintf("variable %q default: %v", v.Name, err))
			}
		}
		declared[v.Name] = true
	}

	used := map[string]bool{}
	var undeclared []string
	for _, body := range t.Content.Bodies() {
		for _, name := range render.Placeholders(body) {
			if !declared[name] && !used[name] {
				undeclared = append(undeclared, name)
			}
			used[name] = true
		}
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		problems = append(problems, "undeclared placeholders: "+strings.Join(undeclared, ", "))
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%s: %w", strings.Join(problems, "; "), domain.ErrInvalidTemplate)
	}

	var warnings []string
	for _, v := range t.Variables {
		if !used[v.Name] {
			warnings = append(warnings, fmt.Sprintf("variable %q is declared but never used", v.Name))
		}
	}
	return warnings, nil
}
