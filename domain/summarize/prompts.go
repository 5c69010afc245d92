package summarize

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/aymerick/raymond"

	"github.com/engagic/engagic/domain/topics"
)

//go:embed prompts/*.hbs
var promptFS embed.FS

const systemPrompt = "You are a civic information assistant. You summarise " +
	"local government meeting documents accurately and plainly for residents. " +
	"You always respond with the exact JSON format requested, with no " +
	"surrounding prose or markdown fences."

var (
	templateMu    sync.RWMutex
	templateCache = make(map[string]*raymond.Template)
)

// renderPrompt renders prompts/<name>.hbs with ctx. Parsed templates are
// cached for the life of the process.
func renderPrompt(name string, ctx map[string]any) (string, error) {
	templateMu.RLock()
	tpl, ok := templateCache[name]
	templateMu.RUnlock()

	if !ok {
		raw, err := promptFS.ReadFile("prompts/" + name + ".hbs")
		if err != nil {
			return "", fmt.Errorf("prompt template %q: %w", name, err)
		}
		tpl, err = raymond.Parse(string(raw))
		if err != nil {
			return "", fmt.Errorf("parse prompt template %q: %w", name, err)
		}
		templateMu.Lock()
		templateCache[name] = tpl
		templateMu.Unlock()
	}

	out, err := tpl.Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("render prompt template %q: %w", name, err)
	}
	return out, nil
}

// taxonomyList is the canonical tag list as it appears in prompts.
func taxonomyList() string {
	return strings.Join(topics.Canonical(), ", ")
}
