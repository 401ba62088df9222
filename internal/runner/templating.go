package runner

import (
	"bufio"
	"bytes"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"
)

// TemplateEngine renders the URL and parameters of user-defined tests.
type TemplateEngine struct {
	fileCache map[string][]string
	mu        sync.RWMutex
	funcMap   template.FuncMap
}

// TemplateData is available to every template as the dot value.
type TemplateData struct {
	Index     int
	RequestID string
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		fileCache: make(map[string][]string),
	}
	e.funcMap = template.FuncMap{
		"randomInt":    e.randomInt,
		"randomChoice": e.randomChoice,
		"randomLine":   e.randomLine,
		"uuid":         uuid.NewString,
	}
	return e
}

// Preprocess rewrites the short forms {{index}} and {{requestID}}.
func (e *TemplateEngine) Preprocess(input string) string {
	s := strings.ReplaceAll(input, "{{index}}", "{{.Index}}")
	return strings.ReplaceAll(s, "{{requestID}}", "{{.RequestID}}")
}

func (e *TemplateEngine) Parse(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(e.funcMap).Option("missingkey=error").Parse(e.Preprocess(text))
}

func (e *TemplateEngine) Execute(t *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// TemplatedRequest builds requests from a URL template and parameter
// templates, all parsed once.
type TemplatedRequest struct {
	engine *TemplateEngine
	method string
	url    *template.Template
	params map[string]*template.Template
}

func (e *TemplateEngine) NewTemplatedRequest(method, rawURL string, params map[string]string) (*TemplatedRequest, error) {
	u, err := e.Parse("url", rawURL)
	if err != nil {
		return nil, fmt.Errorf("url template: %w", err)
	}
	tr := &TemplatedRequest{
		engine: e,
		method: strings.ToUpper(method),
		url:    u,
		params: make(map[string]*template.Template, len(params)),
	}
	if tr.method == "" {
		tr.method = "GET"
	}
	for k, v := range params {
		t, err := e.Parse(k, v)
		if err != nil {
			return nil, fmt.Errorf("param %s template: %w", k, err)
		}
		tr.params[k] = t
	}
	return tr, nil
}

// Build renders the index-th request.
func (tr *TemplatedRequest) Build(index int) (Request, error) {
	data := TemplateData{Index: index, RequestID: uuid.NewString()}
	u, err := tr.engine.Execute(tr.url, data)
	if err != nil {
		return Request{}, err
	}
	req := Request{Method: tr.method, URL: u, Params: make(map[string][]string, len(tr.params))}
	for k, t := range tr.params {
		v, err := tr.engine.Execute(t, data)
		if err != nil {
			return Request{}, err
		}
		req.Params.Set(k, v)
	}
	return req, nil
}

func (e *TemplateEngine) randomInt(min, max int) int {
	if max <= min {
		return min
	}
	return rand.IntN(max-min) + min
}

func (e *TemplateEngine) randomChoice(choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	return choices[rand.IntN(len(choices))]
}

func (e *TemplateEngine) randomLine(filename string) (string, error) {
	e.mu.RLock()
	lines, ok := e.fileCache[filename]
	e.mu.RUnlock()
	if !ok {
		var err error
		if lines, err = e.loadLines(filename); err != nil {
			return "", err
		}
	}
	if len(lines) == 0 {
		return "", nil
	}
	return lines[rand.IntN(len(lines))], nil
}

func (e *TemplateEngine) loadLines(filename string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if lines, ok := e.fileCache[filename]; ok {
		return lines, nil
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	var loaded []string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			loaded = append(loaded, line)
		}
	}
	e.fileCache[filename] = loaded
	return loaded, nil
}
