// Package sheet reads and writes sheet files. A sheet is a named, ordered
// list of formula nodes plus the host modules whose exports its formulas see
// as plain names.
package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/vk/gridcalc/internal/calc"
	"github.com/vk/gridcalc/internal/value"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

// Sheet is the file form of a graph.
type Sheet struct {
	// Name identifies the sheet to people.
	Name string `yaml:"name"`

	// Modules lists the module specifiers merged into the sheet's bundle.
	// Specifiers ending in .yaml name other sheets, relative to this one.
	Modules []string `yaml:"modules,omitempty"`

	// Nodes are inserted in order. A node without a name gets an automatic
	// one.
	Nodes []Node `yaml:"nodes"`
}

// Node is one formula.
type Node struct {
	Name    string `yaml:"name,omitempty"`
	Formula string `yaml:"formula"`

	// Value is the node's last known value. It is shown until the node is
	// first computed.
	Value any `yaml:"value,omitempty"`
}

// Load reads and parses a sheet file.
func Load(path string) (*Sheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet file: %w", err)
	}
	return Decode(data)
}

// Decode parses a sheet, rejecting unknown fields.
func Decode(data []byte) (*Sheet, error) {
	var s Sheet
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sheet: %w", err)
	}
	return &s, nil
}

// Validate checks that required fields are present and explicit node names
// are unique.
func (s *Sheet) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	seen := make(map[string]bool, len(s.Nodes))
	for i, n := range s.Nodes {
		if strings.TrimSpace(n.Formula) == "" {
			return fmt.Errorf("node %d: formula is required", i+1)
		}
		if n.Name == "" {
			continue
		}
		if seen[n.Name] {
			return fmt.Errorf("node %d: duplicate name %q", i+1, n.Name)
		}
		seen[n.Name] = true
	}
	for _, m := range s.Modules {
		if strings.TrimSpace(m) == "" {
			return errors.New("modules must not contain empty specifiers")
		}
	}
	return nil
}

// Entries converts the nodes for calc.Graph.Merge.
func (s *Sheet) Entries() ([]calc.Entry, error) {
	entries := make([]calc.Entry, len(s.Nodes))
	for i, n := range s.Nodes {
		entries[i] = calc.Entry{Name: n.Name, Formula: n.Formula}
		if n.Value == nil {
			continue
		}
		v, err := value.FromGo(n.Value)
		if err != nil {
			return nil, fmt.Errorf("node %q: value: %w", n.Name, err)
		}
		entries[i].InitValue = v
	}
	return entries, nil
}

// Apply merges the sheet's nodes into g.
func (s *Sheet) Apply(g *calc.Graph) (map[string]*calc.Node, error) {
	entries, err := s.Entries()
	if err != nil {
		return nil, err
	}
	return g.Merge(entries)
}

// Snapshot captures g as a sheet. Nodes keep their last settled value.
func Snapshot(name string, modules []string, g *calc.Graph) *Sheet {
	s := &Sheet{Name: name, Modules: modules}
	for _, n := range g.Nodes() {
		node := Node{Name: n.Name(), Formula: n.Formula()}
		if last := n.LastValue(); last != cty.NilVal && !last.IsNull() {
			if v, err := value.ToGo(last); err == nil {
				node.Value = v
			}
		}
		s.Nodes = append(s.Nodes, node)
	}
	return s
}

// FormatFormula returns text in canonical HCL layout.
func FormatFormula(text string) string {
	return strings.TrimSpace(string(hclwrite.Format([]byte(text))))
}

// Encode renders the sheet as YAML with formatted formulas.
func (s *Sheet) Encode() ([]byte, error) {
	out := *s
	out.Nodes = make([]Node, len(s.Nodes))
	for i, n := range s.Nodes {
		n.Formula = FormatFormula(n.Formula)
		out.Nodes[i] = n
	}

	var b bytes.Buffer
	encoder := yaml.NewEncoder(&b)
	encoder.SetIndent(2)
	if err := encoder.Encode(&out); err != nil {
		return nil, fmt.Errorf("failed to encode sheet: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode sheet: %w", err)
	}
	return b.Bytes(), nil
}

// Save writes the sheet to path.
func (s *Sheet) Save(path string) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sheet file: %w", err)
	}
	return nil
}

// ID returns the graph id of the sheet file at path: its absolute file URL.
func ID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve sheet path: %w", err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// Namespace returns id without its kind suffix.
func Namespace(id string) string {
	if i := strings.LastIndex(id, "."); i > strings.LastIndex(id, "/") {
		return id[:i]
	}
	return id
}

// IsSheet reports whether a module specifier names another sheet.
func IsSheet(spec string) bool {
	return strings.HasSuffix(spec, ".yaml") || strings.HasSuffix(spec, ".yml")
}
