package plugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plugin-jobs/internal/config"
)

func ptr[T any](v T) *T { return &v }

func rulePlugin() config.Plugin {
	return config.Plugin{
		Name: "rules",
		Command: config.CommandDefinition{
			Name: "rules",
			Options: []config.CommandOption{
				{Name: "code", Type: "string", Required: true, Validation: &config.ValidationRule{Pattern: `^[A-Z]{3}$`}},
				{Name: "count", Type: "integer", Validation: &config.ValidationRule{MinValue: ptr[int64](1), MaxValue: ptr[int64](10)}},
				{Name: "name", Type: "string", Validation: &config.ValidationRule{MinLength: ptr(3)}},
				{Name: "ratio", Type: "number"},
				{Name: "loud", Type: "boolean", Default: ptr("false")},
			},
		},
	}
}

func TestValidateParams(t *testing.T) {
	cases := []struct {
		name    string
		params  map[string]string
		wantErr string
	}{
		{"ok", map[string]string{"code": "ABC", "count": "5", "name": "Ana", "ratio": "0.5"}, ""},
		{"pattern", map[string]string{"code": "abc"}, "Parameter 'code' does not match required format"},
		{"below min", map[string]string{"code": "ABC", "count": "0"}, "Parameter 'count' must be at least 1"},
		{"above max", map[string]string{"code": "ABC", "count": "11"}, "Parameter 'count' must be at most 10"},
		{"not integer", map[string]string{"code": "ABC", "count": "two"}, "Parameter 'count' must be a whole number"},
		{"short", map[string]string{"code": "ABC", "name": "Al"}, "Parameter 'name' must be at least 3 characters"},
		{"not number", map[string]string{"code": "ABC", "ratio": "NaN"}, "Parameter 'ratio' must be a number"},
		{"not bool", map[string]string{"code": "ABC", "loud": "very"}, "Parameter 'loud' must be true or false"},
		{"missing", map[string]string{}, "Missing required parameter: code"},
		{"blank is missing", map[string]string{"code": "  "}, "Missing required parameter: code"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, rej := validateParams(rulePlugin(), tc.params)
			if tc.wantErr == "" {
				require.Nil(t, rej)
				return
			}
			require.NotNil(t, rej)
			assert.Equal(t, ReasonInvalidParams, rej.Reason)
			assert.Equal(t, tc.wantErr, rej.Message)
		})
	}
}

func TestValidateParamsDropsUndeclaredAndFillsDefaults(t *testing.T) {
	out, rej := validateParams(rulePlugin(), map[string]string{"code": "XYZ", "extra": "$(id)"})
	require.Nil(t, rej)
	assert.Equal(t, map[string]string{"code": "XYZ", "loud": "false"}, out)
}

func TestCooldownOutcomeRoundsUp(t *testing.T) {
	out := cooldownOutcome(1500 * time.Millisecond)
	assert.False(t, out.Accepted)
	assert.Equal(t, "Please wait 2 seconds before using this plugin again", out.Message)
	assert.Equal(t, 1500*time.Millisecond, out.RetryAfter)
}
