package llm

import (
	"regexp"
	"strings"

	"github.com/joescharf/crm/internal/models"
)

var (
	bulletRe = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+`)
	phoneRe  = regexp.MustCompile(`^\+?[\d\s\-()]{7,}$`)
	budgetRe = regexp.MustCompile(`(?i)(₹|\brs\.?|\d\s*(?:cr|crore|crores|l|lakh|lakhs|lac|lacs|k)\b)`)
)

// ParseLines reads one lead per line without calling the API. Fields are
// separated by "|", ";" or tabs, falling back to commas. The first field is
// the name; the rest are recognised by shape: an email, a phone number, a
// budget, or a known source, temperature or interest. Anything else goes to
// notes.
func ParseLines(content string) []ExtractedLead {
	var out []ExtractedLead
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = bulletRe.ReplaceAllString(line, "")

		fields := splitFields(line)
		lead := ExtractedLead{Name: fields[0]}
		var notes []string
		for _, f := range fields[1:] {
			switch {
			case f == "":
			case strings.Contains(f, "@"):
				lead.Email = f
			case phoneRe.MatchString(f):
				lead.Phone = f
			case budgetRe.MatchString(f):
				lead.Budget = f
			default:
				if v, ok := models.ParseLeadSource(f); ok {
					lead.Source = string(v)
				} else if v, ok := models.ParseTemperature(f); ok {
					lead.Temperature = string(v)
				} else if v, ok := models.ParseInterest(f); ok {
					lead.Interest = string(v)
				} else {
					notes = append(notes, f)
				}
			}
		}
		if lead.Name == "" {
			continue
		}
		lead.Notes = strings.Join(notes, "; ")
		out = append(out, lead)
	}
	return out
}

func splitFields(line string) []string {
	sep := ","
	for _, s := range []string{"|", ";", "\t"} {
		if strings.Contains(line, s) {
			sep = s
			break
		}
	}
	parts := strings.Split(line, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
