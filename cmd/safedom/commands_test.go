package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/safedom/internal/aicontext"
	"github.com/raaihank/safedom/internal/privacy"
)

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var ee *exitErr
	require.True(t, errors.As(err, &ee), "expected exitErr, got %v", err)
	return ee.code
}

const page = `<div id="root">
	<p data-ai="include" data-ai-label="subject">Refund request</p>
	<p data-ai="redact:email phone" data-ai-label="contact">jane@example.com / +31 6 12345678</p>
	<p data-ai="exclude">internal note</p>
</div>`

func TestContextThenReinject(t *testing.T) {
	out, _, err := run(t, page, "context", "--selector", "#root")
	require.NoError(t, err)

	var ctx aicontext.AiContext
	require.NoError(t, json.Unmarshal([]byte(out), &ctx))
	assert.Equal(t, "Refund request", ctx.Fields["subject"])
	assert.Equal(t, "__EMAIL_1__ / __PHONE_2__", ctx.Fields["contact"])
	assert.NotContains(t, ctx.RawText, "internal note")
	require.Len(t, ctx.Redactions, 2)

	path := filepath.Join(t.TempDir(), "ctx.json")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o644))

	t.Run("Reinject", func(t *testing.T) {
		restored, stderr, err := run(t, "Reply to __EMAIL_1__ or __PHONE_2__", "reinject", "--redactions", path)
		require.NoError(t, err)
		assert.Equal(t, "Reply to jane@example.com or +31 6 12345678", restored)
		assert.Empty(t, stderr)
	})

	t.Run("ReinjectWarnsOnUnknown", func(t *testing.T) {
		restored, stderr, err := run(t, "__EMAIL_1__ and __SSN_9__", "reinject", "--redactions", path)
		require.NoError(t, err)
		assert.Equal(t, "jane@example.com and __SSN_9__", restored)
		assert.Contains(t, stderr, "__SSN_9__")
	})

	t.Run("ReinjectStrict", func(t *testing.T) {
		_, _, err := run(t, "__SSN_9__", "reinject", "--strict", "--redactions", path)
		assert.Equal(t, 1, exitCode(t, err))
	})

	t.Run("Audit", func(t *testing.T) {
		out, _, err := run(t, "__EMAIL_1__ __CARD_3__ __CARD_3__", "audit", "--redactions", path)
		assert.Equal(t, 1, exitCode(t, err))
		assert.Equal(t, "__CARD_3__\n", out)

		out, _, err = run(t, "__EMAIL_1__", "audit", "--redactions", path)
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestContextOptions(t *testing.T) {
	t.Run("FormValue", func(t *testing.T) {
		markup := `<form id="f"><textarea data-ai="redact:email" data-ai-label="msg" id="m"></textarea></form>`
		out, _, err := run(t, markup, "context", "--selector", "#f", "--value", "#m=mail bob@example.org")
		require.NoError(t, err)
		var ctx aicontext.AiContext
		require.NoError(t, json.Unmarshal([]byte(out), &ctx))
		assert.Equal(t, "mail __EMAIL_1__", ctx.Fields["msg"])
	})

	t.Run("Unlabeled", func(t *testing.T) {
		out, _, err := run(t, `<div id="r"><p>plain a@b.io</p></div>`, "context", "--selector", "#r", "--labeled-only=false")
		require.NoError(t, err)
		var ctx aicontext.AiContext
		require.NoError(t, json.Unmarshal([]byte(out), &ctx))
		assert.Equal(t, "plain __EMAIL_1__", ctx.RawText)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, _, err := run(t, page, "context", "--selector", "#missing")
		assert.Equal(t, 1, exitCode(t, err))
	})

	t.Run("BadValueFlag", func(t *testing.T) {
		_, _, err := run(t, page, "context", "--value", "novalue")
		assert.Equal(t, 3, exitCode(t, err))
	})

	t.Run("BadRegion", func(t *testing.T) {
		_, _, err := run(t, page, "context", "--region", "mars")
		assert.Equal(t, 3, exitCode(t, err))
	})

	t.Run("UnsupportedCountry", func(t *testing.T) {
		_, _, err := run(t, page, "context", "--countries", "xx")
		assert.Equal(t, 3, exitCode(t, err))
	})
}

func TestRedactCommand(t *testing.T) {
	out, _, err := run(t, "mail a@b.io, call 555-123-4567", "redact", "--start-counter", "4")
	require.NoError(t, err)

	var result privacy.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "mail __EMAIL_4__, call __PHONE_5__", result.Text)

	out, _, err = run(t, "mail a@b.io, call 555-123-4567", "redact", "--types", "phone")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "mail a@b.io, call __PHONE_1__", result.Text)
}

func TestReinjectAcceptsBareArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"placeholder":"__EMAIL_1__","original":"$1@x.io","type":"email"}]`), 0o644))

	out, _, err := run(t, "to __EMAIL_1__", "reinject", "--redactions", path)
	require.NoError(t, err)
	assert.Equal(t, "to $1@x.io", out)
}

func TestRulesCommand(t *testing.T) {
	out, _, err := run(t, "", "rules", "--countries", "nl", "--no-generic-phone")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Greater(t, len(lines), 2)
	assert.True(t, strings.HasPrefix(lines[0], "TYPE"))
	assert.True(t, strings.HasPrefix(lines[1], "iban-nl"))
	assert.NotContains(t, out, "__PHONE_")
}
