package policy

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// frontMatter carries the version header of the policy document.
type frontMatter struct {
	Version   int       `yaml:"version"`
	Status    string    `yaml:"status"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// body carries the policy payload following the front-matter.
type body struct {
	Business      Business      `yaml:"business"`
	Specification Specification `yaml:"specification"`
	Restrictions  Restrictions  `yaml:"restrictions"`
	Operational   Operational   `yaml:"operational"`
	CrossChain    CrossChain    `yaml:"cross_chain"`
}

// Store reads the policy document from disk. It holds no cache: Load performs
// a fresh parse on every call.
type Store struct {
	path string
}

// NewStore creates a policy store over the document at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load parses and validates the policy document.
func (s *Store) Load() (*Policy, error) {
	return Load(s.path)
}

// Load parses the policy document at path and validates its invariants.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Parse(data)
}

// Parse parses a policy document from its raw bytes. The document is YAML
// with front-matter: a leading `---`-delimited block carrying version,
// status, and updated_at, followed by the policy body.
func Parse(data []byte) (*Policy, error) {
	front, rest, err := splitFrontMatter(string(data))
	if err != nil {
		return nil, err
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(front), &fm); err != nil {
		return nil, fmt.Errorf("%w: front-matter: %v", ErrMalformed, err)
	}
	if fm.Version <= 0 {
		return nil, fmt.Errorf("%w: missing or non-positive version", ErrMalformed)
	}

	var b body
	if err := yaml.Unmarshal([]byte(rest), &b); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrMalformed, err)
	}

	p := &Policy{
		Version:       fm.Version,
		Status:        fm.Status,
		UpdatedAt:     fm.UpdatedAt,
		Business:      b.Business,
		Specification: b.Specification,
		Restrictions:  b.Restrictions,
		Operational:   b.Operational,
		CrossChain:    b.CrossChain,
	}

	if err := p.validate(); err != nil {
		return nil, err
	}

	return p, nil
}

// Serialize renders a policy back to its front-matter document form.
// Used by tests to check the parse/serialize round trip; the production
// writer is the external policy editor.
func Serialize(p *Policy) ([]byte, error) {
	front, err := yaml.Marshal(frontMatter{
		Version:   p.Version,
		Status:    p.Status,
		UpdatedAt: p.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal front-matter: %w", err)
	}

	rest, err := yaml.Marshal(body{
		Business:      p.Business,
		Specification: p.Specification,
		Restrictions:  p.Restrictions,
		Operational:   p.Operational,
		CrossChain:    p.CrossChain,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(front)
	sb.WriteString("---\n")
	sb.Write(rest)
	return []byte(sb.String()), nil
}

// splitFrontMatter splits a document into its front-matter and body parts.
func splitFrontMatter(doc string) (front, rest string, err error) {
	trimmed := strings.TrimLeft(doc, "\n\r\t ")
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", fmt.Errorf("%w: missing front-matter delimiter", ErrMalformed)
	}

	after := strings.TrimPrefix(trimmed, "---")
	after = strings.TrimPrefix(after, "\n")

	idx := strings.Index(after, "\n---")
	if idx < 0 {
		return "", "", fmt.Errorf("%w: unterminated front-matter", ErrMalformed)
	}

	front = after[:idx+1]
	rest = after[idx+len("\n---"):]
	rest = strings.TrimPrefix(rest, "\n")
	return front, rest, nil
}
