// internal/scenario/loader.go
package scenario

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	homedir "github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// placeholderPattern matches ${name} variable references in scenario string
// fields.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_.-]+)\}`)

// Loader reads scenario documents from disk, interpolates run variables and
// compiles them into executable scenarios.
type Loader struct {
	log     *zap.Logger
	baseURL string
	vars    map[string]string
}

// NewLoader creates a Loader. baseURL resolves relative scenario URLs; vars
// feed ${name} interpolation.
func NewLoader(logger *zap.Logger, baseURL string, vars map[string]string) *Loader {
	return &Loader{
		log:     logger.Named("scenario"),
		baseURL: baseURL,
		vars:    vars,
	}
}

// Load reads one scenario file or every scenario file in a directory.
// Directory entries are processed in lexical order so runs are reproducible.
func (l *Loader) Load(path string) ([]*schemas.Scenario, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding scenario path: %w", err)
	}

	info, err := os.Stat(expanded)
	if err != nil {
		return nil, fmt.Errorf("scenario path %s: %w", path, err)
	}

	files := []string{expanded}
	if info.IsDir() {
		files, err = scenarioFiles(expanded)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no scenario files (*.yaml, *.yml, *.json) found in %s", path)
		}
	}

	scenarios := make([]*schemas.Scenario, 0, len(files))
	for _, f := range files {
		sc, err := l.LoadFile(f)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}

	l.log.Info("Loaded scenarios",
		zap.Int("count", len(scenarios)),
		zap.String("path", path))
	return scenarios, nil
}

// LoadFile reads, interpolates and compiles a single scenario document.
func (l *Loader) LoadFile(path string) (*schemas.Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}

	var file schemas.ScenarioFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
		}
	}

	if file.Name == "" {
		base := filepath.Base(path)
		file.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if err := l.interpolate(&file); err != nil {
		return nil, err
	}

	resolved, err := l.resolveURL(file.URL)
	if err != nil {
		return nil, &schemas.ValidationError{Scenario: file.Name, Field: "url", Msg: err.Error()}
	}
	file.URL = resolved

	return file.Compile()
}

// interpolate substitutes ${name} placeholders in every string field of the
// document. Unresolved placeholders are a validation failure, not a silent
// pass-through.
func (l *Loader) interpolate(file *schemas.ScenarioFile) error {
	var missing []string
	expand := func(s string) string {
		return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
			name := placeholderPattern.FindStringSubmatch(match)[1]
			if v, ok := l.vars[name]; ok {
				return v
			}
			missing = append(missing, name)
			return match
		})
	}

	file.Name = expand(file.Name)
	file.URL = expand(file.URL)
	for i := range file.Steps {
		file.Steps[i].URL = expand(file.Steps[i].URL)
		file.Steps[i].Selector = expand(file.Steps[i].Selector)
		file.Steps[i].Text = expand(file.Steps[i].Text)
		file.Steps[i].WaitFor = expand(file.Steps[i].WaitFor)
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return &schemas.ValidationError{
			Scenario: file.Name,
			Field:    "variables",
			Msg:      fmt.Sprintf("unresolved variable(s): %s", strings.Join(dedupe(missing), ", ")),
		}
	}
	return nil
}

// resolveURL makes relative scenario URLs absolute against the configured
// base.
func (l *Loader) resolveURL(raw string) (string, error) {
	if raw == "" {
		// Compile reports the missing field with scenario context.
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("unparseable url %q: %v", raw, err)
	}
	if u.IsAbs() {
		return raw, nil
	}
	if l.baseURL == "" {
		return "", fmt.Errorf("relative url %q requires a base url", raw)
	}

	base, err := url.Parse(l.baseURL)
	if err != nil || !base.IsAbs() {
		return "", fmt.Errorf("invalid base url %q", l.baseURL)
	}
	return base.ResolveReference(u).String(), nil
}

func scenarioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scenario directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func dedupe(in []string) []string {
	out := in[:0]
	var prev string
	for i, s := range in {
		if i == 0 || s != prev {
			out = append(out, s)
		}
		prev = s
	}
	return out
}
