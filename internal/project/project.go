// Package project parses MLproject files: the named, parameterized entry
// points a pipeline step invokes.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the project descriptor looked up in a project directory.
const FileName = "MLproject"

// ErrEntryPointNotFound is returned for an entry point that is neither
// declared nor a runnable script.
var ErrEntryPointNotFound = errors.New("entry point not found")

// Parameter types understood by Resolve.
const (
	TypeString = "string"
	TypeFloat  = "float"
	TypePath   = "path"
	TypeURI    = "uri"
)

// Project is a parsed MLproject file.
type Project struct {
	Name        string                 `yaml:"name"`
	DockerEnv   *DockerEnv             `yaml:"docker_env,omitempty"`
	EntryPoints map[string]*EntryPoint `yaml:"entry_points"`

	// Dir is the directory the project was loaded from.
	Dir string `yaml:"-"`
}

// DockerEnv names the image entry points run in under the docker and
// kubernetes backends.
type DockerEnv struct {
	Image string `yaml:"image"`
}

// EntryPoint is a named command template with typed parameters.
type EntryPoint struct {
	Name       string
	Parameters map[string]Parameter `yaml:"parameters"`
	Command    string               `yaml:"command"`
}

// Parameter declares an entry point parameter. A nil Default means the
// parameter is required.
type Parameter struct {
	Type    string
	Default *string
}

// UnmarshalYAML accepts both the short form (`alpha: float`) and the long
// form (`alpha: {type: float, default: 0.1}`).
func (p *Parameter) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		p.Type = node.Value
		return nil
	}

	var long struct {
		Type    string     `yaml:"type"`
		Default yaml.Node `yaml:"default"`
	}
	if err := node.Decode(&long); err != nil {
		return err
	}
	p.Type = long.Type
	if long.Default.Kind != 0 && long.Default.Tag != "!!null" {
		v := long.Default.Value
		p.Default = &v
	}
	return nil
}

// Load reads the MLproject file in dir.
func Load(dir string) (*Project, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project dir: %w", err)
	}
	p.Dir = abs
	return p, nil
}

// Parse decodes an MLproject document.
func Parse(data []byte) (*Project, error) {
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}

	for name, ep := range p.EntryPoints {
		if ep == nil {
			return nil, fmt.Errorf("entry point %q is empty", name)
		}
		if strings.TrimSpace(ep.Command) == "" {
			return nil, fmt.Errorf("entry point %q has no command", name)
		}
		ep.Name = name
		for pname, param := range ep.Parameters {
			if param.Type == "" {
				param.Type = TypeString
				ep.Parameters[pname] = param
			}
			switch param.Type {
			case TypeString, TypeFloat, TypePath, TypeURI:
			default:
				return nil, fmt.Errorf("entry point %q: parameter %q has unknown type %q", name, pname, param.Type)
			}
		}
	}

	return &p, nil
}

// EntryPoint returns the named entry point. Undeclared names ending in .py
// or .sh run the file of that name.
func (p *Project) EntryPoint(name string) (*EntryPoint, error) {
	if ep, ok := p.EntryPoints[name]; ok {
		return ep, nil
	}

	switch filepath.Ext(name) {
	case ".py":
		return &EntryPoint{Name: name, Command: "python " + shellQuote(name)}, nil
	case ".sh":
		return &EntryPoint{Name: name, Command: "bash " + shellQuote(name)}, nil
	}

	return nil, fmt.Errorf("%w: %q in project %q", ErrEntryPointNotFound, name, p.Name)
}

// MissingParametersError lists required parameters that were not supplied.
type MissingParametersError struct {
	EntryPoint string
	Names      []string
}

func (e *MissingParametersError) Error() string {
	return fmt.Sprintf("entry point %q: no value given for missing parameters: %s",
		e.EntryPoint, strings.Join(e.Names, ", "))
}

// Resolve merges supplied values with defaults and validates them. Values
// for undeclared parameters are kept and passed through as extra arguments.
func (ep *EntryPoint) Resolve(given map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(ep.Parameters)+len(given))
	for k, v := range given {
		resolved[k] = v
	}

	var missing []string
	for name, param := range ep.Parameters {
		if _, ok := resolved[name]; ok {
			continue
		}
		if param.Default == nil {
			missing = append(missing, name)
			continue
		}
		resolved[name] = *param.Default
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingParametersError{EntryPoint: ep.Name, Names: missing}
	}

	for name, param := range ep.Parameters {
		if param.Type != TypeFloat {
			continue
		}
		if _, err := strconv.ParseFloat(resolved[name], 64); err != nil {
			return nil, fmt.Errorf("entry point %q: parameter %q must be a float, got %q", ep.Name, name, resolved[name])
		}
	}

	return resolved, nil
}

// Render renders the command template with resolved values substituted
// for their {name} placeholders. Undeclared values are appended as
// --name value pairs in name order.
func (ep *EntryPoint) Render(resolved map[string]string) string {
	pairs := make([]string, 0, len(ep.Parameters)*2)
	for name := range ep.Parameters {
		pairs = append(pairs, "{"+name+"}", shellQuote(resolved[name]))
	}
	cmd := strings.NewReplacer(pairs...).Replace(ep.Command)

	var extra []string
	for name := range resolved {
		if _, declared := ep.Parameters[name]; !declared {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		cmd += " --" + name + " " + shellQuote(resolved[name])
	}

	return cmd
}

// shellQuote quotes s for POSIX sh when it contains anything beyond a
// conservative safe set.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=,+@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
