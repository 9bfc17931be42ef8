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

	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/engine"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("VALIDATION", "A comment is required to decline", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION", resp.Error.Code)
	assert.Equal(t, "A comment is required to decline", resp.Error.Message)
	assert.Nil(t, resp.Error.Details)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := map[string]string{"record_id": "nc-1"}
	err := formatter.Error("NOT_FOUND", "Record nc-1 was not found", details)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, map[string]any{"record_id": "nc-1"}, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("Sweep complete")
	require.NoError(t, err)
	assert.Equal(t, "Sweep complete\n", buf.String())
}

func TestOutputFormatter_Render(t *testing.T) {
	text := func(w io.Writer) { fmt.Fprintln(w, "human form") }

	t.Run("text calls the writer func", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "text", Writer: buf}
		require.NoError(t, f.Render(map[string]int{"n": 1}, text))
		assert.Equal(t, "human form\n", buf.String())
	})

	t.Run("json encodes the data", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "json", Writer: buf}
		require.NoError(t, f.Render(map[string]int{"n": 1}, text))
		assert.NotContains(t, buf.String(), "human form")

		var resp CLIResponse
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, map[string]any{"n": float64(1)}, resp.Data)
	})
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("AUTHORIZATION", "Only QA may classify a record during the classification step", map[string]string{"record_id": "nc-1"})
	require.NoError(t, err)
	assert.Equal(t, "Error [AUTHORIZATION]: Only QA may classify a record during the classification step\n", buf.String())
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"record_id": "nc-1"}
	err := formatter.Error("NOT_FOUND", "Record nc-1 was not found", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [NOT_FOUND]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			errBuf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    buf,
				ErrWriter: errBuf,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("Processing %s", "nc-1")

			assert.Empty(t, buf.String(), "diagnostics must not corrupt stdout")
			if tt.wantLog {
				assert.Contains(t, errBuf.String(), "Processing nc-1")
			} else {
				assert.Empty(t, errBuf.String())
			}
		})
	}
}

func TestOutputFormatter_EngineError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantText string
	}{
		{
			name:     "validation",
			err:      &engine.Error{Code: engine.CodeValidation, Message: "A comment is required to decline", RecordID: "nc-1", Action: domain.ActionDecline},
			wantCode: ExitFailure,
			wantText: "Error [VALIDATION]: A comment is required to decline\n",
		},
		{
			name:     "authorization",
			err:      &engine.Error{Code: engine.CodeAuthorization, Message: "Only an administrator may override the workflow"},
			wantCode: ExitFailure,
			wantText: "Error [AUTHORIZATION]: Only an administrator may override the workflow\n",
		},
		{
			name:     "not found",
			err:      &engine.Error{Code: engine.CodeNotFound, Message: "Record nc-9 was not found", RecordID: "nc-9"},
			wantCode: ExitFailure,
			wantText: "Error [NOT_FOUND]: Record nc-9 was not found\n",
		},
		{
			name:     "conflict",
			err:      &engine.Error{Code: engine.CodeConflict, Message: "Record nc-1 was changed by someone else; reload and try again"},
			wantCode: ExitFailure,
			wantText: "Error [CONCURRENCY_CONFLICT]: Record nc-1 was changed by someone else; reload and try again\n",
		},
		{
			name:     "persistence",
			err:      &engine.Error{Code: engine.CodePersistence, Message: "Could not save record nc-1", Err: errors.New("disk I/O error")},
			wantCode: ExitCommandError,
			wantText: "Error [PERSISTENCE]: Could not save record nc-1\n",
		},
		{
			name:     "configuration",
			err:      &engine.Error{Code: engine.CodeConfiguration, Message: "No actor directory configured"},
			wantCode: ExitCommandError,
			wantText: "Error [CONFIGURATION]: No actor directory configured\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &OutputFormatter{Format: "text", Writer: buf}

			err := f.EngineError(fmt.Errorf("wrapped: %w", tt.err))
			assert.Equal(t, tt.wantCode, GetExitCode(err))
			assert.True(t, IsReported(err))
			assert.Equal(t, tt.wantText, buf.String())
		})
	}
}

func TestOutputFormatter_EngineErrorJSONDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	err := f.EngineError(&engine.Error{Code: engine.CodeValidation, Message: "A comment is required to decline", RecordID: "nc-1", Action: domain.ActionDecline})
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION", resp.Error.Code)
	assert.Equal(t, map[string]any{"record_id": "nc-1", "action": "decline"}, resp.Error.Details)
}

func TestOutputFormatter_EngineErrorNonEngine(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	err := f.EngineError(errors.New("boom"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.False(t, IsReported(err), "non-engine errors are left for main to print")
	assert.Empty(t, buf.String())
}

func TestExitError(t *testing.T) {
	plain := NewExitError(ExitCommandError, "--as is required")
	assert.Equal(t, "--as is required", plain.Error())
	assert.Equal(t, ExitCommandError, GetExitCode(plain))

	cause := errors.New("no such file")
	wrapped := WrapExitError(ExitCommandError, "failed to load policy", cause)
	assert.Equal(t, "failed to load policy: no such file", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)

	assert.Equal(t, ExitFailure, GetExitCode(errors.New("other")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("context: %w", plain)))
}

func TestCLIError_JSON(t *testing.T) {
	cliErr := CLIError{
		Code:    "VALIDATION",
		Message: "Root cause is required",
		Details: []string{"root_cause"},
	}

	data, err := json.Marshal(cliErr)
	require.NoError(t, err)

	var decoded CLIError
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "VALIDATION", decoded.Code)
	assert.Equal(t, "Root cause is required", decoded.Message)
}
