package application

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

type promptFile struct {
	AffirmativeTokens []string          `yaml:"affirmative_tokens"`
	Replies           map[string]string `yaml:"replies"`
	Instructions      map[string]string `yaml:"instructions"`
	BoardTool         string            `yaml:"board_tool"`
}

// Prompts holds every system instruction, canned reply and affirmative token.
type Prompts struct {
	affirmative []string
	templates   *template.Template
	boardTool   json.RawMessage
}

// DefaultPrompts returns the embedded prompt pack.
func DefaultPrompts() (*Prompts, error) {
	var file promptFile
	if err := yaml.Unmarshal(defaultPromptsYAML, &file); err != nil {
		return nil, fmt.Errorf("decode embedded prompts: %w", err)
	}
	return newPrompts(file)
}

// LoadPrompts reads a YAML override from path on top of the embedded pack.
// An empty path returns the defaults.
func LoadPrompts(path string) (*Prompts, error) {
	var base promptFile
	if err := yaml.Unmarshal(defaultPromptsYAML, &base); err != nil {
		return nil, fmt.Errorf("decode embedded prompts: %w", err)
	}
	if strings.TrimSpace(path) == "" {
		return newPrompts(base)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file %s: %w", path, err)
	}

	var override promptFile
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("decode prompts file %s: %w", path, err)
	}

	if len(override.AffirmativeTokens) > 0 {
		base.AffirmativeTokens = override.AffirmativeTokens
	}
	for key, value := range override.Replies {
		base.Replies[key] = value
	}
	for key, value := range override.Instructions {
		base.Instructions[key] = value
	}
	if strings.TrimSpace(override.BoardTool) != "" {
		base.BoardTool = override.BoardTool
	}

	return newPrompts(base)
}

func newPrompts(file promptFile) (*Prompts, error) {
	root := template.New("prompts").Funcs(template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	})

	for key, text := range file.Replies {
		if _, err := root.New("replies." + key).Parse(text); err != nil {
			return nil, fmt.Errorf("parse reply %q: %w", key, err)
		}
	}
	for key, text := range file.Instructions {
		if _, err := root.New("instructions." + key).Parse(text); err != nil {
			return nil, fmt.Errorf("parse instruction %q: %w", key, err)
		}
	}

	tool := json.RawMessage(strings.TrimSpace(file.BoardTool))
	if len(tool) > 0 && !json.Valid(tool) {
		return nil, fmt.Errorf("board tool schema is not valid JSON")
	}

	tokens := make([]string, 0, len(file.AffirmativeTokens))
	for _, token := range file.AffirmativeTokens {
		if token = strings.ToLower(strings.TrimSpace(token)); token != "" {
			tokens = append(tokens, token)
		}
	}

	return &Prompts{affirmative: tokens, templates: root, boardTool: tool}, nil
}

// Reply renders a canned chat reply.
func (p *Prompts) Reply(key string, data any) (string, error) {
	return p.render("replies."+key, data)
}

// Instruction renders a system instruction.
func (p *Prompts) Instruction(key string, data any) (string, error) {
	return p.render("instructions."+key, data)
}

func (p *Prompts) BoardTool() json.RawMessage {
	return p.boardTool
}

func (p *Prompts) render(name string, data any) (string, error) {
	tmpl := p.templates.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("prompt %q is not defined", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}
	return buf.String(), nil
}

// IsAffirmative reports whether message contains an affirmative token. Latin
// tokens must match whole words; other scripts match as substrings.
func (p *Prompts) IsAffirmative(message string) bool {
	normalized := strings.ToLower(strings.TrimSpace(message))
	if normalized == "" {
		return false
	}

	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	joined := " " + strings.Join(words, " ") + " "

	for _, token := range p.affirmative {
		if isASCII(token) {
			tokenWords := strings.FieldsFunc(token, func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
			})
			if len(tokenWords) == 0 {
				continue
			}
			if strings.Contains(joined, " "+strings.Join(tokenWords, " ")+" ") {
				return true
			}
			continue
		}
		if strings.Contains(normalized, token) {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
