package fixtures

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/crmscenarios/internal/scenario"
)

func TestEmbeddedScenariosLoad(t *testing.T) {
	all, err := scenario.LoadFS(FS(), ".", func(string) (string, bool) { return "", false })
	require.NoError(t, err)

	names := make([]string, 0, len(all))
	for _, sc := range all {
		names = append(names, sc.Name)
		require.NotEmpty(t, sc.Steps, sc.Name)
		require.NotEmpty(t, sc.Assertions, sc.Name)
	}
	require.Equal(t, []string{
		"TC001_login",
		"TC011_marketing_templates",
		"TC015_reports_export",
		"TC017_calendar_event",
		"TC020_search_performance",
	}, names)
}

func TestEmbeddedScenarios_CredentialsFromEnvironment(t *testing.T) {
	env := map[string]string{"CRM_USER": "qa-user", "CRM_PASSWORD": "s3cret"}
	all, err := scenario.LoadFS(FS(), ".", func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)

	var values []string
	for _, step := range all[0].Steps {
		if step.Fill != nil {
			values = append(values, step.Fill.Value)
		}
	}
	require.Equal(t, []string{"qa-user", "s3cret"}, values)
}

func TestEmbeddedScenarios_DefaultCredentials(t *testing.T) {
	all, err := scenario.LoadFS(FS(), ".", nil)
	require.NoError(t, err)

	login := all[0]
	require.Equal(t, "TC001_login", login.Name)
	require.Equal(t, "admin2", login.Steps[8].Fill.Value)
	require.Equal(t, "Admin2025!", login.Steps[9].Fill.Value)
	require.Len(t, login.Assertions, 15)
}

// Recorded XPaths are positional and can match several elements, so every
// fixture locator pins the first match.
func TestEmbeddedScenarios_LocatorsSelectFirstMatch(t *testing.T) {
	all, err := scenario.LoadFS(FS(), ".", nil)
	require.NoError(t, err)

	for _, sc := range all {
		for i, step := range sc.Steps {
			var target *scenario.Target
			switch {
			case step.Fill != nil:
				target = &step.Fill.Target
			case step.Click != nil:
				target = &step.Click.Target
			default:
				continue
			}
			require.True(t, strings.HasPrefix(target.Locator, "xpath="), "%s step %d: %s", sc.Name, i, target.Locator)
			require.NotNil(t, target.Nth, "%s step %d: %s has no nth", sc.Name, i, target.Locator)
			require.Zero(t, *target.Nth, "%s step %d: %s", sc.Name, i, target.Locator)
		}
	}
}
