package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kuitang/crmscenarios/internal/errs"
)

// LookupFunc resolves an environment reference; os.LookupEnv fits.
type LookupFunc func(key string) (string, bool)

// Decode parses one scenario document, expands ${VAR} and ${VAR:-default}
// references in URLs, fill values and expected texts, and validates it.
// "$$" stands for a literal "$"; a "$" not starting a reference is kept.
// Unknown YAML keys are rejected.
func Decode(r io.Reader, source string, lookup LookupFunc) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errs.New(errs.InvalidScenario, fmt.Sprintf("%s: empty scenario document", source))
		}
		return nil, errs.Wrap(errs.InvalidScenario, fmt.Sprintf("%s: decode scenario", source), err)
	}
	sc.Source = source
	sc.expand(lookup)

	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadFile reads a single scenario file from disk.
func LoadFile(filename string, lookup LookupFunc) (*Scenario, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidScenario, "read scenario file", err)
	}
	return Decode(bytes.NewReader(data), filename, lookup)
}

// LoadFS loads every *.yaml and *.yml file directly under dir in fsys,
// ordered by file name. Scenario names must be unique.
func LoadFS(fsys fs.FS, dir string, lookup LookupFunc) ([]*Scenario, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidScenario, "read scenario directory "+dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isScenarioFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var out []*Scenario
	for _, name := range names {
		p := path.Join(dir, name)
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidScenario, "read scenario file "+p, err)
		}
		sc, err := Decode(bytes.NewReader(data), p, lookup)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if err := checkUnique(out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadPaths loads files and directories from disk in the order given.
func LoadPaths(paths []string, lookup LookupFunc) ([]*Scenario, error) {
	var out []*Scenario
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidScenario, "stat "+p, err)
		}
		if info.IsDir() {
			loaded, err := LoadFS(os.DirFS(p), ".", lookup)
			if err != nil {
				return nil, err
			}
			out = append(out, loaded...)
			continue
		}
		sc, err := LoadFile(p, lookup)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if err := checkUnique(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Filter keeps scenarios carrying any of tags whose name matches any of the
// glob patterns. Empty filters match everything.
func Filter(all []*Scenario, tags []string, patterns []string) ([]*Scenario, error) {
	var out []*Scenario
	for _, sc := range all {
		if !sc.HasTag(tags...) {
			continue
		}
		ok, err := matchAny(sc.Name, patterns)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, sc)
		}
	}
	return out, nil
}

func matchAny(name string, patterns []string) (bool, error) {
	if len(patterns) == 0 {
		return true, nil
	}
	for _, p := range patterns {
		ok, err := path.Match(p, name)
		if err != nil {
			return false, errs.Wrap(errs.InvalidScenario, fmt.Sprintf("bad scenario pattern %q", p), err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func isScenarioFile(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func checkUnique(list []*Scenario) error {
	seen := make(map[string]string, len(list))
	for _, sc := range list {
		if prev, ok := seen[sc.Name]; ok {
			return errs.New(errs.InvalidScenario, fmt.Sprintf("duplicate scenario name %q in %s and %s", sc.Name, prev, sc.Source))
		}
		seen[sc.Name] = sc.Source
	}
	return nil
}

// envRef matches "$$" and ${NAME} or ${NAME:-default}. Any other "$" is
// literal text.
var envRef = regexp.MustCompile(`\$\$|\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnv replaces ${NAME} with the value of NAME, ${NAME:-default} with the
// value or default when NAME is unset or empty, and "$$" with "$".
func expandEnv(s string, lookup LookupFunc) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		if ref == "$$" {
			return "$"
		}
		m := envRef.FindStringSubmatch(ref)
		if v, ok := lookup(m[1]); ok && v != "" {
			return v
		}
		return m[2]
	})
}

func (s *Scenario) expand(lookup LookupFunc) {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}

	s.InitialURL = expandEnv(s.InitialURL, lookup)
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.Navigate != nil {
			step.Navigate.URL = expandEnv(step.Navigate.URL, lookup)
		}
		if step.Fill != nil {
			step.Fill.Value = expandEnv(step.Fill.Value, lookup)
		}
	}
	for i := range s.Assertions {
		s.Assertions[i].Text = expandEnv(s.Assertions[i].Text, lookup)
	}
}
