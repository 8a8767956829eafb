package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp
}

func TestRootRejectsInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "yaml", "get", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestStoreGetRoundTrip(t *testing.T) {
	store := t.TempDir()

	out, err := execute(t, "--store", store, "--format", "json",
		"store", "hello world", "--alias", "greeting")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]any)
	valueID := data["value_id"].(string)
	require.NotEmpty(t, valueID)
	assert.False(t, data["reused"].(bool))

	out, err = execute(t, "--store", store, "--format", "json",
		"get", "greeting@1", "--data")
	require.NoError(t, err)
	resp = decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)
	got := resp.Data.(map[string]any)
	assert.Equal(t, valueID, got["value_id"])
	assert.Equal(t, "string", got["type"])
	assert.Equal(t, "hello world", got["data"])
}

func TestStoreDeduplicates(t *testing.T) {
	store := t.TempDir()

	out, err := execute(t, "--store", store, "--format", "json", "store", "42", "--type", "integer")
	require.NoError(t, err)
	first := decodeResponse(t, out).Data.(map[string]any)

	out, err = execute(t, "--store", store, "--format", "json", "store", "42", "--type", "integer")
	require.NoError(t, err)
	second := decodeResponse(t, out).Data.(map[string]any)

	assert.Equal(t, first["value_id"], second["value_id"])
	assert.True(t, second["reused"].(bool))
}

func TestStoreMetadataOnSqliteBackend(t *testing.T) {
	store := t.TempDir()

	out, err := execute(t, "--store", store, "--backend", "sqlite", "--format", "json",
		"store", "annotated batch", "--meta", `note={"comment":"imported batch"}`)
	require.NoError(t, err)
	id := decodeResponse(t, out).Data.(map[string]any)["value_id"].(string)

	out, err = execute(t, "--store", store, "--backend", "sqlite", "--format", "json", "get", id)
	require.NoError(t, err)
	got := decodeResponse(t, out).Data.(map[string]any)
	md, ok := got["metadata"].([]any)
	require.True(t, ok, "metadata missing from get output: %v", got)
	require.Len(t, md, 1)
	entry := md[0].(map[string]any)
	assert.Equal(t, "note", entry["schema_name"])
	assert.Equal(t, "imported batch", entry["data"].(map[string]any)["comment"])
}

func TestStoreMetadataRejectedByFsBackend(t *testing.T) {
	store := t.TempDir()

	_, err := execute(t, "--store", store, "--format", "json",
		"store", "annotated", "--meta", `note={"comment":"x"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support metadata")
}

func TestAliasCommands(t *testing.T) {
	store := t.TempDir()

	out, err := execute(t, "--store", store, "--format", "json", "store", "v1")
	require.NoError(t, err)
	id := decodeResponse(t, out).Data.(map[string]any)["value_id"].(string)

	_, err = execute(t, "--store", store, "--format", "json", "alias", "set", id, "model")
	require.NoError(t, err)

	out, err = execute(t, "--store", store, "--format", "json", "alias", "resolve", "model")
	require.NoError(t, err)
	resolved := decodeResponse(t, out).Data.(map[string]any)
	assert.Equal(t, id, resolved["value_id"])

	out, err = execute(t, "--store", store, "--format", "json", "alias", "versions", "model")
	require.NoError(t, err)
	versions := decodeResponse(t, out).Data.(map[string]any)["versions"].([]any)
	assert.Equal(t, []any{float64(1)}, versions)

	out, err = execute(t, "--store", store, "--format", "json", "alias", "for", id)
	require.NoError(t, err)
	aliases := decodeResponse(t, out).Data.(map[string]any)["aliases"].([]any)
	require.Len(t, aliases, 1)
	assert.Equal(t, "local#model@1", aliases[0])
}

func TestAliasResolveUnknownFails(t *testing.T) {
	store := t.TempDir()
	_, err := execute(t, "--store", store, "--format", "json", "alias", "resolve", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

const cliPipeline = `
name: greet
steps:
  - name: left
    module: lode.constant
    config:
      value: foo
  - name: right
    module: lode.constant
    config:
      value: bar
  - name: join
    module: lode.concat
    config:
      separator: " "
    inputs:
      a:
        from: "left:value"
      b:
        from: "right:value"
`

func TestRunPipelineWithRecord(t *testing.T) {
	store := t.TempDir()
	path := filepath.Join(t.TempDir(), "greet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cliPipeline), 0o644))

	out, err := execute(t, "--store", store, "--format", "json", "run", path, "--record")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)
	run := resp.Data.(map[string]any)
	assert.Equal(t, "greet", run["pipeline"])
	steps := run["steps"].([]any)
	require.Len(t, steps, 3)

	var joinOutput string
	for _, raw := range steps {
		step := raw.(map[string]any)
		if step["step"] == "join" {
			joinOutput = step["outputs"].(map[string]any)["result"].(string)
		}
	}
	require.NotEmpty(t, joinOutput)

	// The recorded output is a real stored value.
	out, err = execute(t, "--store", store, "--format", "json", "get", joinOutput, "--data")
	require.NoError(t, err)
	got := decodeResponse(t, out).Data.(map[string]any)
	assert.Equal(t, "foo bar", got["data"])

	// And its producing job record is queryable.
	out, err = execute(t, "--store", store, "--format", "json", "jobs", "for", joinOutput)
	require.NoError(t, err)
	rec := decodeResponse(t, out).Data.(map[string]any)
	assert.Equal(t, "lode.concat", rec["module"])
	assert.Equal(t, joinOutput, rec["outputs"].(map[string]any)["result"])
}

func TestRunMissingPipelineFile(t *testing.T) {
	store := t.TempDir()
	_, err := execute(t, "--store", store, "run", filepath.Join(store, "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		literal  string
		dataType string
		want     any
		wantErr  bool
	}{
		{"hello", "string", "hello", false},
		{"42", "integer", int64(42), false},
		{"true", "boolean", true, false},
		{`{"k":"v"}`, "object", map[string]any{"k": "v"}, false},
		{"raw", "bytes", []byte("raw"), false},
		{"not-a-number", "integer", nil, true},
		{"{broken", "object", nil, true},
	}
	for _, tt := range tests {
		got, err := parseLiteral(tt.literal, tt.dataType)
		if tt.wantErr {
			assert.Error(t, err, tt.literal)
			continue
		}
		require.NoError(t, err, tt.literal)
		assert.Equal(t, tt.want, got, tt.literal)
	}
}
