package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/crmscenarios/internal/errs"
)

const loginYAML = `
name: login
tags: [smoke]
initial_url: /login
steps:
  - fill: {locator: "#user", value: "${CRM_USER:-admin2}"}
  - fill: {locator: "#pass", value: "${CRM_PASSWORD}"}
    note: Enter the password
  - click: {locator: "#submit", nth: 0}
    timeout: 2s
  - wait: {state: domcontentloaded}
  - wait: {duration: 250ms}
  - scroll: {dy: 1, viewport: true}
  - navigate: {url: /dashboard, wait_until: commit}
assertions:
  - {text: Dashboard, timeout: 3s}
  - text: Bienvenido
    message: welcome banner missing
`

func noEnv(string) (string, bool) { return "", false }

func TestDecode_FullScenario(t *testing.T) {
	sc, err := Decode(strings.NewReader(loginYAML), "login.yaml", func(k string) (string, bool) {
		if k == "CRM_PASSWORD" {
			return "Admin2025!", true
		}
		return "", false
	})
	require.NoError(t, err)

	require.Equal(t, "login", sc.Name)
	require.Equal(t, "login.yaml", sc.Source)
	require.Equal(t, "/login", sc.InitialURL)
	require.Len(t, sc.Steps, 7)

	kinds := make([]Kind, len(sc.Steps))
	for i, s := range sc.Steps {
		kinds[i] = s.Kind()
	}
	require.Equal(t, []Kind{KindFill, KindFill, KindClick, KindWait, KindWait, KindScroll, KindNavigate}, kinds)

	require.Equal(t, "admin2", sc.Steps[0].Fill.Value)
	require.Equal(t, "Admin2025!", sc.Steps[1].Fill.Value)
	require.Equal(t, "#submit", sc.Steps[2].Click.Locator)
	require.NotNil(t, sc.Steps[2].Click.Nth)
	require.Equal(t, 2*time.Second, sc.Steps[2].Timeout)
	require.Equal(t, 250*time.Millisecond, sc.Steps[4].Wait.Duration)
	require.True(t, sc.Steps[5].Scroll.Viewport)
	require.Equal(t, StateCommit, sc.Steps[6].Navigate.WaitUntil)

	require.Equal(t, 3*time.Second, sc.Assertions[0].Timeout)
	require.Equal(t, "welcome banner missing", sc.Assertions[1].Message)
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	_, err := Decode(strings.NewReader("name: x\ninitial_url: /\nstepz: []\n"), "x.yaml", noEnv)
	require.Error(t, err)
	require.Equal(t, errs.InvalidScenario, errs.CodeOf(err))
}

func TestDecode_EmptyDocument(t *testing.T) {
	_, err := Decode(strings.NewReader(""), "empty.yaml", noEnv)
	require.Error(t, err)
	require.Equal(t, errs.InvalidScenario, errs.CodeOf(err))
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	neg := -1
	sc := &Scenario{
		Steps: []Step{
			{},
			{Fill: &Fill{Value: "x"}, Click: &Click{Target: Target{Locator: "#a"}}},
			{Click: &Click{Target: Target{Locator: "#a", Nth: &neg}}},
			{Wait: &Wait{State: "commit"}},
			{Wait: &Wait{Duration: time.Second, State: StateLoad}},
			{Navigate: &Navigate{URL: "/x", WaitUntil: "eventually"}},
			{Scroll: &Scroll{}},
			{Fill: &Fill{Value: "v"}, Timeout: -time.Second},
		},
		Assertions: []Expectation{{Text: "  "}},
	}

	err := sc.Validate()
	require.Error(t, err)
	require.Equal(t, errs.InvalidScenario, errs.CodeOf(err))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	for _, want := range []string{
		"name is required",
		"initial_url is required",
		"steps[0]: exactly one of",
		"steps[1]: exactly one of",
		"steps[2].click: nth must not be negative",
		`steps[3]: unknown wait state "commit"`,
		"steps[4]: wait takes duration or state, not both",
		`steps[5]: unknown wait_until "eventually"`,
		"steps[6]: scroll needs dx or dy",
		"steps[7]: timeout must not be negative",
		"steps[7].fill: locator is required",
		"assertions[0]: text is required",
	} {
		require.Contains(t, verr.Error(), want)
	}
}

func TestStepDescribe(t *testing.T) {
	zero := 0
	cases := []struct {
		step Step
		want string
	}{
		{Step{Navigate: &Navigate{URL: "/login"}}, "navigate /login"},
		{Step{Wait: &Wait{Duration: 3 * time.Second}}, "wait 3s"},
		{Step{Wait: &Wait{State: StateNetworkIdle}}, "wait for networkidle"},
		{Step{Fill: &Fill{Target: Target{Locator: "#u"}, Value: "secret"}}, "fill #u"},
		{Step{Click: &Click{Target: Target{Locator: "#b", Nth: &zero}}}, "click #b [nth=0]"},
		{Step{Scroll: &Scroll{DY: 300}}, "scroll 0,300"},
		{Step{Scroll: &Scroll{DY: 1, Viewport: true}}, "scroll 0,1 viewports"},
		{Step{}, "invalid step"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.step.Describe())
	}
}

func TestLoadFS_OrdersAndRejectsDuplicates(t *testing.T) {
	fsys := fstest.MapFS{
		"b.yaml":    {Data: []byte("name: second\ninitial_url: /\nassertions: [{text: B}]\n")},
		"a.yml":     {Data: []byte("name: first\ninitial_url: /\nassertions: [{text: A}]\n")},
		"notes.txt": {Data: []byte("ignored")},
	}
	list, err := LoadFS(fsys, ".", noEnv)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "first", list[0].Name)
	require.Equal(t, "second", list[1].Name)

	fsys["c.yaml"] = &fstest.MapFile{Data: []byte("name: first\ninitial_url: /\n")}
	_, err = LoadFS(fsys, ".", noEnv)
	require.Error(t, err)
	require.Contains(t, err.Error(), `duplicate scenario name "first"`)
}

func TestLoadPaths_FilesAndDirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "suite")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "one.yaml"), []byte("name: one\ninitial_url: /\n"), 0o644))
	single := filepath.Join(dir, "two.yaml")
	require.NoError(t, os.WriteFile(single, []byte("name: two\ninitial_url: /\n"), 0o644))

	list, err := LoadPaths([]string{single, sub}, noEnv)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "two", list[0].Name)
	require.Equal(t, "one", list[1].Name)

	_, err = LoadPaths([]string{filepath.Join(dir, "missing.yaml")}, noEnv)
	require.Error(t, err)
}

func TestFilter(t *testing.T) {
	all := []*Scenario{
		{Name: "TC001_login", Tags: []string{"login", "smoke"}},
		{Name: "TC011_marketing", Tags: []string{"marketing"}},
		{Name: "TC020_search", Tags: []string{"smoke"}},
	}

	got, err := Filter(all, []string{"SMOKE"}, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = Filter(all, nil, []string{"TC01*"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = Filter(all, []string{"smoke"}, []string{"TC02*"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "TC020_search", got[0].Name)

	_, err = Filter(all, nil, []string{"["})
	require.Error(t, err)
}

func TestExpand_DefaultAndOverride_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		def := rapid.StringMatching(`[a-zA-Z0-9!]{1,20}`).Draw(t, "default")
		override := rapid.StringMatching(`[a-zA-Z0-9]{0,20}`).Draw(t, "override")

		sc := &Scenario{
			Name:       "x",
			InitialURL: "/",
			Steps:      []Step{{Fill: &Fill{Target: Target{Locator: "#f"}, Value: "${V:-" + def + "}"}}},
		}
		sc.expand(func(k string) (string, bool) {
			if k == "V" && override != "" {
				return override, true
			}
			return "", false
		})

		want := def
		if override != "" {
			want = override
		}
		if got := sc.Steps[0].Fill.Value; got != want {
			t.Fatalf("expanded %q, want %q", got, want)
		}
	})
}

func TestExpand_LiteralDollarSigns(t *testing.T) {
	env := map[string]string{"CRM_PASSWORD": "s3cr$t", "EMPTY": ""}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cases := []struct {
		in, want string
	}{
		{"Total $5.00", "Total $5.00"},
		{"Pa$$w0rd$1", "Pa$w0rd$1"},
		{"$", "$"},
		{"precio$", "precio$"},
		{"$HOME/x", "$HOME/x"},
		{"${CRM_PASSWORD}", "s3cr$t"},
		{"${CRM_PASSWORD:-x}!", "s3cr$t!"},
		{"${EMPTY:-fallback}", "fallback"},
		{"${MISSING}", ""},
		{"$${CRM_PASSWORD}", "${CRM_PASSWORD}"},
		{"${not valid}", "${not valid}"},
		{"${UNCLOSED", "${UNCLOSED"},
	}
	for _, tc := range cases {
		sc := &Scenario{
			Name:       "x",
			InitialURL: "/buscar?q=" + tc.in,
			Steps:      []Step{{Fill: &Fill{Target: Target{Locator: "#f"}, Value: tc.in}}},
			Assertions: []Expectation{{Text: tc.in}},
		}
		sc.expand(lookup)
		require.Equal(t, tc.want, sc.Steps[0].Fill.Value, "fill value %q", tc.in)
		require.Equal(t, tc.want, sc.Assertions[0].Text, "assertion text %q", tc.in)
		require.Equal(t, "/buscar?q="+tc.want, sc.InitialURL, "url %q", tc.in)
	}
}

func TestDecode_PasswordWithDollarSign(t *testing.T) {
	doc := `
name: TC_dollar
initial_url: /login
steps:
  - fill: {locator: "#pass", value: "Pa$$w0rd$1"}
assertions:
  - text: "Total $5.00"
`
	sc, err := Decode(strings.NewReader(doc), "dollar.yaml", nil)
	require.NoError(t, err)
	require.Equal(t, "Pa$w0rd$1", sc.Steps[0].Fill.Value)
	require.Equal(t, "Total $5.00", sc.Assertions[0].Text)
}
