// Package render substitutes {{name}} placeholders into template bodies.
package render

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/clinic-notify/internal/domain"
	"github.com/clinic-notify/internal/pkg/validate"
)

var (
	placeholderRe = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)
	// NameRe is the well-formedness rule for variable names.
	NameRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9][0-9 ().\-]{5,19}$`)
)

// Placeholders returns the distinct placeholder names in s, in order of first appearance.
func Placeholders(s string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// CheckValue reports whether value is acceptable for a variable of type t.
func CheckValue(t domain.VariableType, value string) error {
	ok := true
	switch t {
	case domain.VarText:
	case domain.VarNumber:
		_, err := strconv.ParseFloat(value, 64)
		ok = err == nil
	case domain.VarDate:
		ok = parseDate(value)
	case domain.VarEmail:
		ok = validate.Email(value)
	case domain.VarPhone:
		ok = phoneRe.MatchString(value)
	default:
		ok = false
	}
	if !ok {
		return fmt.Errorf("%q is not a valid %s: %w", value, t, domain.ErrInvalidVariable)
	}
	return nil
}

func parseDate(s string) bool {
	if _, err := time.Parse("2006-01-02", s); err == nil {
		return true
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

// Resolve produces the value for every declared variable: provided values are
// type-checked, missing optional ones fall back to the default or "".
func Resolve(t *domain.Template, vars map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(t.Variables))
	for _, v := range t.Variables {
		val, ok := vars[v.Name]
		if !ok {
			if v.Required {
				return nil, &domain.MissingVariableError{Name: v.Name}
			}
			if v.Default != nil {
				val = *v.Default
			}
			out[v.Name] = val
			continue
		}
		if err := CheckValue(v.Type, val); err != nil {
			return nil, fmt.Errorf("variable %s: %w", v.Name, err)
		}
		out[v.Name] = val
	}
	return out, nil
}

// Substitute replaces declared placeholders in one pass. The output is not
// re-scanned; undeclared placeholders stay verbatim.
func Substitute(s string, values map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		if v, ok := values[m[2:len(m)-2]]; ok {
			return v
		}
		return m
	})
}

// Render builds the content for one channel of t.
func Render(t *domain.Template, ch domain.Channel, vars map[string]string) (domain.RenderedContent, error) {
	if !ch.Valid() {
		return domain.RenderedContent{}, fmt.Errorf("channel %q: %w", ch, domain.ErrBadRequest)
	}
	values, err := Resolve(t, vars)
	if err != nil {
		return domain.RenderedContent{}, err
	}
	return Apply(t, ch, values), nil
}

// Apply renders ch with already-resolved values.
func Apply(t *domain.Template, ch domain.Channel, values map[string]string) domain.RenderedContent {
	c := t.Content
	out := domain.RenderedContent{Channel: ch}
	switch ch {
	case domain.ChannelEmail:
		out.Title = Substitute(c.Subject, values)
		out.Body = Substitute(c.Text, values)
		if c.HTML != "" {
			out.HTML = Substitute(c.HTML, values)
			if out.Body == "" {
				out.Body = out.HTML
			}
		}
	case domain.ChannelSMS:
		out.Body = Substitute(c.BodyFor(ch), values)
	case domain.ChannelPush, domain.ChannelInApp:
		out.Title = Substitute(c.Subject, values)
		out.Body = Substitute(c.BodyFor(ch), values)
	}
	return out
}

// RenderAll renders every channel in chs, resolving variables once.
func RenderAll(t *domain.Template, chs []domain.Channel, vars map[string]string) ([]domain.RenderedContent, map[string]string, error) {
	values, err := Resolve(t, vars)
	if err != nil {
		return nil, nil, err
	}
	out := make([]domain.RenderedContent, 0, len(chs))
	for _, ch := range chs {
		if !ch.Valid() {
			return nil, nil, fmt.Errorf("channel %q: %w", ch, domain.ErrBadRequest)
		}
		out = append(out, Apply(t, ch, values))
	}
	return out, values, nil
}

// SampleValue generates a test value for UI previews.
func SampleValue(v domain.Variable, now time.Time) string {
	if v.Sample != "" {
		return v.Sample
	}
	if v.Default != nil {
		return *v.Default
	}
	switch v.Type {
	case domain.VarNumber:
		return "42"
	case domain.VarDate:
		return now.Format("2006-01-02")
	case domain.VarEmail:
		return "patient@example.com"
	case domain.VarPhone:
		return "+15550100"
	case domain.VarText:
	}
	return "Sample " + v.Name
}
