package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(CountResult{Count: 3}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"count": float64(3)}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	details := map[string]string{"field": "status"}
	require.NoError(t, formatter.Error("E002", "unknown field", details))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E002", resp.Error.Code)
	assert.Equal(t, "unknown field", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

type renderedResult struct{}

func (renderedResult) RenderText(w io.Writer) { fmt.Fprint(w, "custom layout\n") }

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(CountResult{Count: 12}))
	require.NoError(t, formatter.Success(renderedResult{}))
	assert.Equal(t, "12\ncustom layout\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	for _, verbose := range []bool{false, true} {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: verbose}

		require.NoError(t, formatter.Error("E001", "query failed", "near WHERE"))
		assert.Contains(t, buf.String(), "Error [E001]: query failed")
		if verbose {
			assert.Contains(t, buf.String(), "Details: near WHERE")
		} else {
			assert.NotContains(t, buf.String(), "Details:")
		}
	}
}

func TestOutputFormatter_WarnAndVerboseLog(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: out, ErrWriter: diag, Verbose: true}

	formatter.Warn("field %s ignored", "x")
	formatter.VerboseLog("opened %s", "matches.db")
	assert.Empty(t, out.String())
	assert.Contains(t, diag.String(), "warning: field x ignored")
	assert.Contains(t, diag.String(), "opened matches.db")

	diag.Reset()
	formatter = &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag}
	formatter.Warn("ignored")
	formatter.VerboseLog("ignored")
	assert.Empty(t, diag.String())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "bad", errors.New("cause")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}

func TestExitError_Message(t *testing.T) {
	cause := errors.New("no such table")
	err := WrapExitError(ExitFailure, "query failed", cause)
	assert.Equal(t, "query failed: no such table", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bad", NewExitError(ExitFailure, "bad").Error())
}
