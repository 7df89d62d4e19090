package gateway

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptCatalog []byte

// Prompt is a rendered system/user message pair.
type Prompt struct {
	System string
	User   string
}

type promptSource struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type compiledPrompt struct {
	system *template.Template
	user   *template.Template
}

var (
	promptsOnce sync.Once
	prompts     map[Capability]compiledPrompt
	promptsErr  error
)

func loadPrompts() (map[Capability]compiledPrompt, error) {
	promptsOnce.Do(func() {
		var src map[string]promptSource
		if err := yaml.Unmarshal(promptCatalog, &src); err != nil {
			promptsErr = fmt.Errorf("failed to parse prompt catalog: %w", err)
			return
		}
		prompts = make(map[Capability]compiledPrompt, len(src))
		for name, p := range src {
			sys, err := template.New(name + ".system").Option("missingkey=zero").Parse(p.System)
			if err != nil {
				promptsErr = fmt.Errorf("failed to parse %s system prompt: %w", name, err)
				return
			}
			usr, err := template.New(name + ".user").Option("missingkey=zero").Parse(p.User)
			if err != nil {
				promptsErr = fmt.Errorf("failed to parse %s user prompt: %w", name, err)
				return
			}
			prompts[Capability(name)] = compiledPrompt{system: sys, user: usr}
		}
	})
	return prompts, promptsErr
}

// RenderPrompt renders the catalog prompt for capability with inputs.
func RenderPrompt(capability Capability, inputs Inputs) (Prompt, error) {
	catalog, err := loadPrompts()
	if err != nil {
		return Prompt{}, err
	}
	p, ok := catalog[capability]
	if !ok {
		return Prompt{}, fmt.Errorf("no prompt for capability %q", capability)
	}

	var sys, usr bytes.Buffer
	if err := p.system.Execute(&sys, map[string]any(inputs)); err != nil {
		return Prompt{}, fmt.Errorf("failed to render %s system prompt: %w", capability, err)
	}
	if err := p.user.Execute(&usr, map[string]any(inputs)); err != nil {
		return Prompt{}, fmt.Errorf("failed to render %s user prompt: %w", capability, err)
	}
	return Prompt{System: sys.String(), User: usr.String()}, nil
}
