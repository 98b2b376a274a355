package cli

import (
	"bytes"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/kuitang/crmscenarios/internal/errs"
	"github.com/kuitang/crmscenarios/internal/scenario"
)

// scenarioDir picks the directory flag, then SCENARIO_DIR from the
// environment. Empty means the embedded fixtures.
func (o *RootOptions) scenarioDir() string {
	if o.Dir != "" {
		return o.Dir
	}
	if o.deps.Lookup != nil {
		if dir, ok := o.deps.Lookup("SCENARIO_DIR"); ok {
			return strings.TrimSpace(dir)
		}
	}
	return ""
}

// loadScenarios loads the configured scenario set.
func (o *RootOptions) loadScenarios() ([]*scenario.Scenario, error) {
	if dir := o.scenarioDir(); dir != "" {
		return scenario.LoadPaths([]string{dir}, o.deps.Lookup)
	}
	if o.deps.Fixtures == nil {
		return nil, errs.New(errs.InvalidScenario, "no scenario directory configured")
	}
	return scenario.LoadFS(o.deps.Fixtures, ".", o.deps.Lookup)
}

// fileCheck is the validation outcome of one scenario file.
type fileCheck struct {
	Source string `json:"source"`
	Name   string `json:"name,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (c fileCheck) ok() bool { return c.Error == "" }

// checkSources decodes every file independently so one broken fixture does
// not hide problems in the others.
func (o *RootOptions) checkSources(paths []string) ([]fileCheck, error) {
	var checks []fileCheck
	if len(paths) == 0 {
		if dir := o.scenarioDir(); dir != "" {
			paths = []string{dir}
		} else {
			if o.deps.Fixtures == nil {
				return nil, errs.New(errs.InvalidScenario, "no scenario directory configured")
			}
			return checkDuplicates(checkFS(o.deps.Fixtures, ".", "", o.deps.Lookup)), nil
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			checks = append(checks, fileCheck{Source: p, Error: err.Error()})
			continue
		}
		if info.IsDir() {
			checks = append(checks, checkFS(os.DirFS(p), ".", p, o.deps.Lookup)...)
			continue
		}
		sc, err := scenario.LoadFile(p, o.deps.Lookup)
		checks = append(checks, toCheck(p, sc, err))
	}
	return checkDuplicates(checks), nil
}

func checkFS(fsys fs.FS, dir, display string, lookup scenario.LookupFunc) []fileCheck {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return []fileCheck{{Source: path.Join(display, dir), Error: err.Error()}}
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(path.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	checks := make([]fileCheck, 0, len(names))
	for _, name := range names {
		source := path.Join(display, dir, name)
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			checks = append(checks, fileCheck{Source: source, Error: err.Error()})
			continue
		}
		sc, err := scenario.Decode(bytes.NewReader(data), source, lookup)
		checks = append(checks, toCheck(source, sc, err))
	}
	return checks
}

func toCheck(source string, sc *scenario.Scenario, err error) fileCheck {
	if err != nil {
		return fileCheck{Source: source, Error: err.Error()}
	}
	return fileCheck{Source: source, Name: sc.Name}
}

func checkDuplicates(checks []fileCheck) []fileCheck {
	seen := make(map[string]string)
	for i, c := range checks {
		if !c.ok() {
			continue
		}
		if prev, dup := seen[c.Name]; dup {
			checks[i].Error = "duplicate scenario name " + c.Name + " (also in " + prev + ")"
			continue
		}
		seen[c.Name] = c.Source
	}
	return checks
}
