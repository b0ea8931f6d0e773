package report

import (
	"bytes"
	"embed"
	"fmt"
	"hash/fnv"
	"html/template"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"p9e.in/wsm/models"
	"p9e.in/wsm/utils"
)

//go:embed templates/*.html
var embedded embed.FS

// GenericTemplate is used when no variant-specific template exists.
const GenericTemplate = "generic.html"

// Templates resolves report templates from the embedded set, optionally
// overridden by files in a directory.
type Templates struct {
	layers []fs.FS
}

// NewTemplates returns the embedded templates, with dir (if not empty) taking precedence.
func NewTemplates(dir string) (*Templates, error) {
	base, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, err
	}
	t := &Templates{layers: []fs.FS{base}}
	if dir != "" {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("template dir: %w", err)
		}
		t.layers = append(t.layers, os.DirFS(dir))
	}
	return t, nil
}

// TemplateInfo describes one available template.
type TemplateInfo struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	File string `json:"file"`
}

// List returns the available templates. Files starting with "_" are partials and skipped.
func (t *Templates) List() ([]TemplateInfo, error) {
	found := map[string]TemplateInfo{}
	for _, layer := range t.layers {
		matches, err := fs.Glob(layer, "*.html")
		if err != nil {
			return nil, err
		}
		for _, file := range matches {
			if strings.HasPrefix(file, "_") {
				continue
			}
			stem := strings.TrimSuffix(file, ".html")
			found[stem] = TemplateInfo{
				Key:  strings.ToUpper(stem),
				Name: titleCase(strings.ReplaceAll(stem, "_", " ")),
				File: file,
			}
		}
	}

	out := make([]TemplateInfo, 0, len(found))
	for _, info := range found {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Resolve returns the template file used for a variant and its source.
func (t *Templates) Resolve(v models.Variant) (string, []byte, error) {
	candidates := []string{utils.Slug(string(v)) + ".html", GenericTemplate}
	for _, name := range candidates {
		for i := len(t.layers) - 1; i >= 0; i-- {
			src, err := fs.ReadFile(t.layers[i], name)
			if err == nil {
				return name, src, nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return "", nil, fmt.Errorf("read template %s: %w", name, err)
			}
		}
	}
	return "", nil, fmt.Errorf("no template for variant %s", v)
}

// Fingerprint identifies the template source currently resolved for a variant.
// It is empty when no template resolves.
func (t *Templates) Fingerprint(v models.Variant) string {
	name, src, err := t.Resolve(v)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	h.Write([]byte(name))
	h.Write(src)
	return fmt.Sprintf("%016x", h.Sum64())
}

var funcs = template.FuncMap{
	"inc":   func(i int) int { return i + 1 },
	"upper": strings.ToUpper,
}

// Execute substitutes d into the variant's template. Missing keys render empty.
func (t *Templates) Execute(v models.Variant, d *Data) (string, error) {
	name, src, err := t.Resolve(v)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(string(src))
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
