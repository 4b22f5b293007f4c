package sandbox

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		input    string
		expected Language
		hasError bool
	}{
		{"python", LanguagePython, false},
		{"py", LanguagePython, false},
		{"Python", LanguagePython, false},
		{"javascript", LanguageJavaScript, false},
		{"js", LanguageJavaScript, false},
		{"nodejs", LanguageJavaScript, false},
		{"typescript", LanguageTypeScript, false},
		{"ts", LanguageTypeScript, false},
		{"rust", LanguageRust, false},
		{"rs", LanguageRust, false},
		{"go", LanguageGo, false},
		{"golang", LanguageGo, false},
		{"bash", LanguageBash, false},
		{"sh", LanguageBash, false},
		{"shell", LanguageBash, false},
		{" python ", LanguagePython, false},
		{"cobol", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseLanguage(tt.input)
			if tt.hasError {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnsupportedLanguage)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

func TestEffectiveTimeout(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		req := ExecutionRequest{Language: LanguagePython, Code: "print(1)"}
		assert.Equal(t, DefaultTimeout, req.EffectiveTimeout())
	})

	t.Run("Explicit", func(t *testing.T) {
		req := ExecutionRequest{Language: LanguagePython, Code: "print(1)", Timeout: 5 * time.Second}
		assert.Equal(t, 5*time.Second, req.EffectiveTimeout())
	})
}

func TestResultConstructors(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		result := successResult("output", "", time.Second)
		assert.True(t, result.Success)
		require.NotNil(t, result.ExitCode)
		assert.Equal(t, 0, *result.ExitCode)
		assert.False(t, result.TimedOut)
		assert.Equal(t, time.Second, result.Duration)
	})

	t.Run("Failure", func(t *testing.T) {
		result := failureResult("", "boom", 2, time.Second)
		assert.False(t, result.Success)
		require.NotNil(t, result.ExitCode)
		assert.Equal(t, 2, *result.ExitCode)
		assert.False(t, result.TimedOut)
	})

	t.Run("Timeout", func(t *testing.T) {
		result := timeoutResult("partial", "", 30*time.Second)
		assert.False(t, result.Success)
		assert.Nil(t, result.ExitCode)
		assert.True(t, result.TimedOut)
		assert.Equal(t, "partial", result.Stdout)
	})
}

func TestCombinedOutput(t *testing.T) {
	t.Run("StdoutOnly", func(t *testing.T) {
		result := successResult("hello", "", time.Second)
		assert.Equal(t, "hello", result.CombinedOutput())
	})

	t.Run("Both", func(t *testing.T) {
		result := failureResult("hello", "oops", 1, time.Second)
		combined := result.CombinedOutput()
		assert.Contains(t, combined, "hello")
		assert.Contains(t, combined, "--- stderr ---")
		assert.Contains(t, combined, "oops")
	})

	t.Run("Empty", func(t *testing.T) {
		result := successResult("", "", time.Second)
		assert.Empty(t, result.CombinedOutput())
	})
}

func TestClampOutput(t *testing.T) {
	t.Run("UnderLimit", func(t *testing.T) {
		out, truncated := clampOutput("short", 100)
		assert.Equal(t, "short", out)
		assert.False(t, truncated)
	})

	t.Run("OverLimit", func(t *testing.T) {
		out, truncated := clampOutput(strings.Repeat("x", 100), 10)
		assert.Len(t, out, 10)
		assert.True(t, truncated)
	})

	t.Run("Disabled", func(t *testing.T) {
		out, truncated := clampOutput(strings.Repeat("x", 100), 0)
		assert.Len(t, out, 100)
		assert.False(t, truncated)
	})
}

func TestClampResult(t *testing.T) {
	result := failureResult(strings.Repeat("a", 50), strings.Repeat("b", 50), 1, time.Second)
	clamped := clampResult(result, 10)
	assert.Len(t, clamped.Stdout, 10)
	assert.Len(t, clamped.Stderr, 10)
	assert.True(t, clamped.Truncated)
}

func TestErrorKindsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrUnsupportedLanguage, ErrSandboxViolation))
	assert.False(t, errors.Is(ErrSandboxViolation, ErrBackendUnavailable))
	assert.False(t, errors.Is(ErrBackendUnavailable, ErrUnsupportedLanguage))
}
