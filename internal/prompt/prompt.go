// Package prompt loads the role templates and assembles prompts from them.
package prompt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakif/laph/internal/apperror"
)

// Name identifies a template.
type Name string

const (
	Thinker    Name = "thinker"
	Coder      Name = "coder"
	Summariser Name = "summariser"
	Vision     Name = "vision"
)

// Names lists every template a Set must hold.
var Names = []Name{Thinker, Summariser, Vision, Coder}

// FileName returns the file a template is read from.
func (n Name) FileName() string {
	return string(n) + "_prompt.txt"
}

// Set holds the loaded templates. It is read-only after Load.
type Set struct {
	templates map[Name]string
}

// Load reads all templates from dir. Any missing file is an error wrapping
// apperror.ErrNotFound.
func Load(dir string) (*Set, error) {
	return LoadFS(os.DirFS(dir), dir)
}

// LoadFS reads all templates from fsys. label is used in error messages only.
func LoadFS(fsys fs.FS, label string) (*Set, error) {
	s := &Set{templates: make(map[Name]string, len(Names))}
	for _, name := range Names {
		b, err := fs.ReadFile(fsys, name.FileName())
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperror.NotFound("prompt template", filepath.Join(label, name.FileName()))
		}
		if err != nil {
			return nil, fmt.Errorf("prompt: loading %s: %w", filepath.Join(label, name.FileName()), err)
		}
		s.templates[name] = string(b)
	}
	return s, nil
}

// New builds a Set from in-memory templates. Missing names are an error.
func New(templates map[Name]string) (*Set, error) {
	s := &Set{templates: make(map[Name]string, len(Names))}
	for _, name := range Names {
		t, ok := templates[name]
		if !ok {
			return nil, apperror.NotFound("prompt template", string(name))
		}
		s.templates[name] = t
	}
	return s, nil
}

// Template returns the raw template text.
func (s *Set) Template(name Name) string {
	return s.templates[name]
}

// Thinker builds the planning prompt. Empty code or errText are omitted.
func (s *Set) Thinker(task, code, errText string) string {
	return s.withRepair(s.templates[Thinker]+"\n\nTask: "+task+"\n", code, errText)
}

// Coder builds the implementation prompt. Empty code or errText are omitted.
func (s *Set) Coder(spec, code, errText string) string {
	return s.withRepair(s.templates[Coder]+"\n\nSpecification: "+spec+"\n", code, errText)
}

// Summariser builds the log summary prompt.
func (s *Set) Summariser(logs string) string {
	return s.templates[Summariser] + "\n\nLogs: " + logs + "\n"
}

// Vision builds the description-to-task prompt.
func (s *Set) Vision(description string) string {
	return s.templates[Vision] + "\n\nDescription: " + description + "\n"
}

func (s *Set) withRepair(base, code, errText string) string {
	var b strings.Builder
	b.WriteString(base)
	if code != "" {
		b.WriteString("Previous code: " + code + "\n")
	}
	if errText != "" {
		b.WriteString("Error: " + errText + "\n")
	}
	return b.String()
}
