package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const llmReply = "Your budget covers the trip because flights were cheap.\n\n" +
	"Lodging is booked therefore only food remains.\n\n" +
	"However, no museum tickets were found.\n\n" +
	"Overall the notes support the plan."

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeTestConfig(t *testing.T, llmEndpoint string) string {
	t.Helper()
	dir := t.TempDir()
	body := "database:\n" +
		"  driver: sqlite3\n" +
		"  path: " + filepath.Join(dir, "am.db") + "\n" +
		"llm:\n" +
		"  endpoint: " + llmEndpoint + "\n" +
		"  requests_per_second: 0\n" +
		"pricing:\n" +
		"  path: " + filepath.Join(dir, "pricing.yaml") + "\n" +
		"answer_machine:\n" +
		"  default_min_iterations: 1\n" +
		"  default_max_iterations: 1\n"
	path := filepath.Join(dir, "answer_machine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func fakeLLM(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": llmReply}}},
			"usage":   map[string]int{"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "amctl dev")
	assert.Contains(t, out, "commit: none")
}

func TestMigrateCmd(t *testing.T) {
	cfg := writeTestConfig(t, "http://127.0.0.1:1")
	out, err := runCmd(t, "migrate", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date (sqlite3)")
}

func TestRequiredFlags(t *testing.T) {
	_, err := runCmd(t, "run", "--thread", "t1")
	assert.ErrorContains(t, err, "--thread and --user are required")

	_, err = runCmd(t, "submit", "--user", "alice")
	assert.ErrorContains(t, err, "--thread and --user are required")

	_, err = runCmd(t, "tokens")
	assert.ErrorContains(t, err, "--run is required")

	_, err = runCmd(t, "ask", "why?")
	assert.ErrorContains(t, err, "--user is required")
}

func TestAskThenTokens(t *testing.T) {
	srv := fakeLLM(t)
	cfg := writeTestConfig(t, srv.URL)

	out, err := runCmd(t, "ask", "--config", cfg, "--user", "alice", "Is my Lisbon trip within budget?")
	require.NoError(t, err, out)
	assert.Contains(t, out, "iterations: 1")
	assert.Contains(t, out, llmReply)

	m := regexp.MustCompile(`run: (\S+)`).FindStringSubmatch(out)
	require.Len(t, m, 2)

	out, err = runCmd(t, "tokens", "--config", cfg, "--run", m[1])
	require.NoError(t, err)
	assert.Contains(t, out, "final_answer")
	assert.Contains(t, out, "sub_question_answer")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "total"))

	out, err = runCmd(t, "tokens", "--config", cfg, "--run", m[1], "--json")
	require.NoError(t, err)
	var payload struct {
		RunID  string `json:"run_id"`
		Totals struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"totals"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, m[1], payload.RunID)
	assert.Positive(t, payload.Totals.TotalTokens)
}
