package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/chorus/internal/config"
	"github.com/user/chorus/internal/db"
)

type fakeModelHost struct {
	mu      sync.Mutex
	models  []string
	reply   string
	prompts []string
}

func newFakeModelHost(t *testing.T, models ...string) (*fakeModelHost, *httptest.Server) {
	t.Helper()
	host := &fakeModelHost{models: models, reply: "Hey there!"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			var out struct {
				Models []map[string]string `json:"models"`
			}
			for _, m := range host.models {
				out.Models = append(out.Models, map[string]string{"name": m})
			}
			_ = json.NewEncoder(w).Encode(out)
		case "/api/generate":
			var req struct {
				Model  string `json:"model"`
				Prompt string `json:"prompt"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			host.mu.Lock()
			host.prompts = append(host.prompts, req.Prompt)
			reply := host.reply
			host.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]string{"response": reply})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	t.Setenv("CHORUS_TRANSPORT_HOST", srv.URL)
	return host, srv
}

func executeCLI(t *testing.T, home string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", home)

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func configDir(home string) string {
	return filepath.Join(home, ".config", "chorus")
}

func TestVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", stdout)
}

func TestAskPrintsReplyAndMetrics(t *testing.T) {
	home := t.TempDir()
	newFakeModelHost(t, "deepseek-coder:6.7b", "mistral:latest", "phi3:latest")

	stdout, _, err := executeCLI(t, home, "ask", "--user", "u1", "--construct", "zen", "hi")
	require.NoError(t, err)

	parts := strings.SplitN(stdout, "\n\n", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, "Hey there!", strings.TrimSpace(parts[0]))

	var metrics struct {
		RequestID string `json:"request_id"`
		Route     string `json:"route"`
	}
	require.NoError(t, json.Unmarshal([]byte(parts[1]), &metrics))
	assert.Equal(t, "greeting", metrics.Route)
	assert.NotEmpty(t, metrics.RequestID)

	database, err := db.Open(context.Background(), filepath.Join(configDir(home), "chorus.db"))
	require.NoError(t, err)
	defer database.Close()
	exchanges, err := db.NewExchangeRepo(database.SQL()).ListByUser(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.Equal(t, "hi", exchanges[0].Message)
	assert.Equal(t, "Hey there!", exchanges[0].Response)
	assert.Equal(t, metrics.RequestID, exchanges[0].RequestID)
}

func TestAskNoMetrics(t *testing.T) {
	newFakeModelHost(t, "phi3:latest")

	stdout, _, err := executeCLI(t, t.TempDir(), "ask", "--no-metrics", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hey there!\n", stdout)
}

func TestAskRejectsUnknownMode(t *testing.T) {
	newFakeModelHost(t)

	_, _, err := executeCLI(t, t.TempDir(), "ask", "--mode", "loud", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestAskRequiresMessage(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "ask")
	require.Error(t, err)
}

func TestSeatsWritesDefaultsAndPrintsTable(t *testing.T) {
	home := t.TempDir()
	newFakeModelHost(t)

	stdout, _, err := executeCLI(t, home, "seats")
	require.NoError(t, err)
	assert.Contains(t, stdout, "SEAT")
	assert.Contains(t, stdout, "deepseek-coder:6.7b")
	assert.Contains(t, stdout, "mistral:latest")
	assert.Contains(t, stdout, "phi3:latest")
	assert.NotContains(t, stdout, "STATUS")

	_, err = os.Stat(filepath.Join(configDir(home), "seats.yaml"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(configDir(home), "constructs", "zen.yaml"))
	require.NoError(t, err)
}

func TestSeatsFileAndEnvironmentOverride(t *testing.T) {
	home := t.TempDir()
	newFakeModelHost(t)
	require.NoError(t, os.MkdirAll(configDir(home), 0o755))
	seats := "seats:\n  coding:\n    model: qwen2.5-coder:7b\n    role: Coder\n"
	require.NoError(t, os.WriteFile(filepath.Join(configDir(home), "seats.yaml"), []byte(seats), 0o644))
	t.Setenv("CHORUS_MODEL_CREATIVE", "llama3:8b")

	stdout, _, err := executeCLI(t, home, "seats", "--json")
	require.NoError(t, err)

	var rows []seatRow
	require.NoError(t, json.Unmarshal([]byte(stdout), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, "qwen2.5-coder:7b", rows[0].Model)
	assert.Equal(t, "Coder", rows[0].Role)
	assert.Equal(t, "llama3:8b", rows[1].Model)
	assert.Equal(t, "phi3:latest", rows[2].Model)
	assert.Nil(t, rows[0].Available)
}

func TestSeatsProbe(t *testing.T) {
	newFakeModelHost(t, "mistral:latest", "phi3")

	stdout, _, err := executeCLI(t, t.TempDir(), "seats", "--probe", "--json")
	require.NoError(t, err)

	var rows []seatRow
	require.NoError(t, json.Unmarshal([]byte(stdout), &rows))
	require.Len(t, rows, 3)
	for _, row := range rows {
		require.NotNil(t, row.Available, row.Seat)
		assert.Equal(t, row.Seat != "coding", *row.Available, row.Seat)
	}

	table, _, err := executeCLI(t, t.TempDir(), "seats", "--probe")
	require.NoError(t, err)
	assert.Contains(t, table, "STATUS")
	assert.Contains(t, table, "unavailable")
}

func TestInvalidConfigIsReported(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "--transport", "pigeon", "seats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")

	_, _, err = executeCLI(t, t.TempDir(), "--transport", "command", "seats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport.command is required")
}

func TestServerWiring(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	newFakeModelHost(t, "deepseek-coder:6.7b", "mistral:latest", "phi3:latest")

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetErr(&bytes.Buffer{})
	v := viper.New()
	v.Set(config.KeyToken, "tok")

	app, err := wireApp(cmd, v)
	require.NoError(t, err)
	defer app.Close()

	srv, _ := newServer(app)
	h := srv.Handler()

	unauth := httptest.NewRecorder()
	h.ServeHTTP(unauth, httptest.NewRequest(http.MethodGet, "/api/seats", nil))
	assert.Equal(t, http.StatusUnauthorized, unauth.Code)

	body := strings.NewReader(`{"user_id":"u1","message":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	req.Header.Set("Authorization", "Bearer tok")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), "Hey there!")

	req = httptest.NewRequest(http.MethodGet, "/api/exchanges?user_id=u1", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var exchanges []db.Exchange
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &exchanges))
	assert.Len(t, exchanges, 1)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), "chorus_requests_total")
}
