package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/minds/internal/tellask"
)

// Member is one teammate in team.yaml.
type Member struct {
	ID     string `yaml:"id"`
	Prompt string `yaml:"prompt"`
	// DiligencePushMax overrides the app default for this member.
	DiligencePushMax *int `yaml:"diligence-push-max"`
}

// Team is the loaded team roster. It implements the driver's Team
// contract for call classification and prompt assembly.
type Team struct {
	members    map[string]Member
	defaultMax int
}

// HasMember reports whether agentID is on the roster.
func (t *Team) HasMember(agentID string) bool {
	_, ok := t.members[agentID]
	return ok
}

// MemberPrompt returns the member's system prompt, "" for strangers.
func (t *Team) MemberPrompt(agentID string) string {
	return t.members[agentID].Prompt
}

// DiligenceMax returns the member's auto-continuation budget.
func (t *Team) DiligenceMax(agentID string) int {
	if m, ok := t.members[agentID]; ok && m.DiligencePushMax != nil {
		return *m.DiligencePushMax
	}
	return t.defaultMax
}

// Members returns the roster ids.
func (t *Team) Members() []string {
	out := make([]string, 0, len(t.members))
	for id := range t.members {
		out = append(out, id)
	}
	return out
}

type teamFile struct {
	Members []Member `yaml:"members"`
}

// LoadTeam parses .minds/team.yaml. Unknown top-level keys are
// rejected; the driver never starts with a bad roster. A missing file
// yields an empty team.
func LoadTeam(mindsDir string, defaultMax int) (*Team, error) {
	team := &Team{members: make(map[string]Member), defaultMax: defaultMax}

	path := filepath.Join(mindsDir, "team.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return team, nil
		}
		return nil, fmt.Errorf("read team config: %w", err)
	}

	var f teamFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for _, m := range f.Members {
		if !tellask.ValidMentionID(m.ID) {
			return nil, fmt.Errorf("%s: member id %q is not a valid mention", path, m.ID)
		}
		if _, dup := team.members[m.ID]; dup {
			return nil, fmt.Errorf("%s: duplicate member id %q", path, m.ID)
		}
		if m.DiligencePushMax != nil && *m.DiligencePushMax < 0 {
			return nil, fmt.Errorf("%s: member %q: diligence-push-max must be >= 0", path, m.ID)
		}
		team.members[m.ID] = m
	}
	return team, nil
}

// LLMProfile is one provider entry in llm.yaml.
type LLMProfile struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"` // openai | script
	APIBase string `yaml:"api-base"`
	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string `yaml:"api-key-env"`
	Model     string `yaml:"model"`
}

type llmFile struct {
	Providers []LLMProfile `yaml:"providers"`
}

// LoadLLM parses .minds/llm.yaml with the same strictness as the team
// loader.
func LoadLLM(mindsDir string) ([]LLMProfile, error) {
	path := filepath.Join(mindsDir, "llm.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read llm config: %w", err)
	}

	var f llmFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, p := range f.Providers {
		switch p.Kind {
		case "openai", "script":
		default:
			return nil, fmt.Errorf("%s: provider %q: unknown kind %q", path, p.Name, p.Kind)
		}
	}
	return f.Providers, nil
}

// MCPServer is one entry in mcp.yaml. minds parses and validates the
// file; connecting to servers is out of scope.
type MCPServer struct {
	Name      string   `yaml:"name"`
	Transport string   `yaml:"transport"` // stdio | http
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	URL       string   `yaml:"url"`
}

type mcpFile struct {
	Servers []MCPServer `yaml:"servers"`
}

// LoadMCP parses .minds/mcp.yaml.
func LoadMCP(mindsDir string) ([]MCPServer, error) {
	path := filepath.Join(mindsDir, "mcp.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read mcp config: %w", err)
	}

	var f mcpFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, s := range f.Servers {
		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				return nil, fmt.Errorf("%s: server %q: stdio transport requires command", path, s.Name)
			}
		case "http":
			if s.URL == "" {
				return nil, fmt.Errorf("%s: server %q: http transport requires url", path, s.Name)
			}
		default:
			return nil, fmt.Errorf("%s: server %q: unknown transport %q", path, s.Name, s.Transport)
		}
	}
	return f.Servers, nil
}
