// Package covenant loads and validates the covenant declaration file: the
// versioned statement of which action scopes are permitted. The declaration
// is consumed, never produced, by this process.
package covenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// FileName is the declaration file searched for in ancestor directories.
const FileName = "covenant.json"

// VersionNone is the reserved marker recorded when an action is gated
// before any covenant has been activated.
const VersionNone = "none"

// ErrNotFound is returned when no declaration file can be located.
var ErrNotFound = errors.New("covenant declaration not found")

// Scope is a named capability bundle an action may require.
type Scope struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

// Declaration is the parsed covenant document.
type Declaration struct {
	Version string  `json:"version"`
	Scopes  []Scope `json:"scopes"`
}

// AllowsScope reports whether the declaration names the given scope.
func (d Declaration) AllowsScope(scope string) bool {
	for _, s := range d.Scopes {
		if s.Name == scope {
			return true
		}
	}
	return false
}

// ScopeNames returns the declared scope names in document order.
func (d Declaration) ScopeNames() []string {
	names := make([]string, 0, len(d.Scopes))
	for _, s := range d.Scopes {
		names = append(names, s.Name)
	}
	return names
}

const declarationSchema = `{
	"type": "object",
	"required": ["version", "scopes"],
	"properties": {
		"version": {"type": "string", "minLength": 1},
		"scopes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "capabilities"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"capabilities": {
						"type": "array",
						"items": {"type": "string"}
					}
				}
			}
		}
	}
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(declarationSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal declaration schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("covenant.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add declaration schema resource: %w", err)
	}
	return c.Compile("covenant.schema.json")
})

// Load reads and validates a declaration file.
func Load(path string) (Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Declaration{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Declaration{}, fmt.Errorf("read covenant declaration: %w", err)
	}
	return Parse(data)
}

// Parse validates raw declaration JSON against the embedded schema and
// decodes it.
func Parse(data []byte) (Declaration, error) {
	schema, err := compiledSchema()
	if err != nil {
		return Declaration{}, err
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return Declaration{}, fmt.Errorf("parse covenant declaration: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Declaration{}, fmt.Errorf("invalid covenant declaration: %w", err)
	}

	var d Declaration
	if err := json.Unmarshal(data, &d); err != nil {
		return Declaration{}, fmt.Errorf("decode covenant declaration: %w", err)
	}
	seen := make(map[string]struct{}, len(d.Scopes))
	for _, s := range d.Scopes {
		if _, dup := seen[s.Name]; dup {
			return Declaration{}, fmt.Errorf("invalid covenant declaration: duplicate scope %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return d, nil
}

// Resolve locates the declaration file. An explicit override path wins;
// otherwise ancestor directories are walked upward from startDir until a
// covenant.json is found.
func Resolve(override, startDir string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNotFound, override)
		}
		return override, nil
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve covenant start dir: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: walked up from %s", ErrNotFound, startDir)
		}
		dir = parent
	}
}

// LoadFromDir resolves and loads the declaration in one step.
func LoadFromDir(override, startDir string) (Declaration, string, error) {
	path, err := Resolve(override, startDir)
	if err != nil {
		return Declaration{}, "", err
	}
	d, err := Load(path)
	if err != nil {
		return Declaration{}, "", err
	}
	return d, path, nil
}
