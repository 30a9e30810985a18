package notify

import (
	"strconv"
	"strings"

	"github.com/PowerSchill/automation-concierge/internal/rules"
)

// Expand substitutes {{ var }} and {{var}} placeholders. Unknown
// placeholders are left as written.
func Expand(template string, m rules.Match) string {
	if !strings.Contains(template, "{{") {
		return template
	}

	ev, rule := m.Event, m.Rule
	number := ""
	if ev.EntityNumber > 0 {
		number = strconv.Itoa(ev.EntityNumber)
	}
	name := rule.Name
	if name == "" {
		name = rule.ID
	}

	vars := []struct{ key, value string }{
		{"event.id", ev.ID},
		{"event.type", string(ev.Type)},
		{"event.repo", ev.RepoFullName},
		{"event.entity_number", number},
		{"event.entity_title", ev.EntityTitle},
		{"event.entity_url", ev.EntityURL},
		{"rule.id", rule.ID},
		{"rule.name", name},
		{"match.reason", m.Reason},
	}

	pairs := make([]string, 0, len(vars)*4)
	for _, v := range vars {
		pairs = append(pairs, "{{ "+v.key+" }}", v.value, "{{"+v.key+"}}", v.value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
