package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/interpreter-runtime/pkg/api"
	"github.com/psantana5/interpreter-runtime/pkg/models"
)

type fakeServer struct {
	lastInterpret api.InterpretRequest
	lastUser      string
	closedQuery   string
}

func (f *fakeServer) router() *mux.Router {
	r := mux.NewRouter()
	reply := func(w http.ResponseWriter, status int, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}
	r.HandleFunc("/v1/settings", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []api.SettingResponse{{
			ID:           "python",
			Name:         "Python",
			Option:       models.Option{PerNote: models.PolicyShared, PerUser: models.PolicyScoped},
			Capabilities: []models.CapabilityInfo{{Name: "echo", Default: true}, {Name: "sleep"}},
		}})
	}).Methods("GET")
	r.HandleFunc("/v1/settings/{id}/interpret", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] != "python" {
			reply(w, http.StatusNotFound, api.ErrorResponse{Error: "setting not found: " + mux.Vars(r)["id"]})
			return
		}
		json.NewDecoder(r.Body).Decode(&f.lastInterpret)
		f.lastUser = r.Header.Get("X-User-ID")
		reply(w, http.StatusOK, models.NewResult(models.CodeSuccess, f.lastInterpret.Code))
	}).Methods("POST")
	r.HandleFunc("/v1/settings/{id}/sessions", func(w http.ResponseWriter, r *http.Request) {
		f.closedQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	}).Methods("DELETE")
	r.HandleFunc("/v1/executions", func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		reply(w, http.StatusOK, []models.ExecutionRecord{{
			SettingID:  "python",
			SessionKey: "alice",
			Capability: "echo",
			Code:       models.CodeSuccess,
			StartedAt:  now.Add(-20 * time.Millisecond),
			FinishedAt: now,
		}})
	}).Methods("GET")
	return r
}

func execute(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	serverURL, outputFormat, userID = "", "table", ""
	runNotebook, runCapability, runParagraph = "", "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSettingsList(t *testing.T) {
	srv := httptest.NewServer((&fakeServer{}).router())
	defer srv.Close()

	out, err := execute(t, srv, "settings", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "python")
	assert.Contains(t, out, "echo*,sleep")

	out, err = execute(t, srv, "settings", "list", "-o", "json")
	require.NoError(t, err)
	var settings []api.SettingResponse
	require.NoError(t, json.Unmarshal([]byte(out), &settings))
	assert.Equal(t, models.PolicyScoped, settings[0].Option.PerUser)

	out, err = execute(t, srv, "settings", "list", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "id: python")

	_, err = execute(t, srv, "settings", "list", "-o", "xml")
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.router())
	defer srv.Close()

	out, err := execute(t, srv, "--as", "alice", "run", "python", "print(1)", "-n", "N", "-p", "p1")
	require.NoError(t, err)
	assert.Equal(t, "print(1)\n", out)
	assert.Equal(t, "alice", fake.lastUser)
	assert.Equal(t, "N", fake.lastInterpret.Notebook)
	assert.Equal(t, "p1", fake.lastInterpret.ParagraphID)

	rootCmd.SetIn(strings.NewReader("from stdin"))
	out, err = execute(t, srv, "run", "python")
	require.NoError(t, err)
	assert.Equal(t, "from stdin\n", out)

	_, err = execute(t, srv, "run", "ruby", "1")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, apiErr.Message, "ruby")
}

func TestSessionsClose(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.router())
	defer srv.Close()

	out, err := execute(t, srv, "--as", "bob", "sessions", "close", "python", "-n", "N")
	require.NoError(t, err)
	assert.Contains(t, out, "Session closed")
	assert.Equal(t, "notebook=N&user=bob", fake.closedQuery)
}

func TestExecutionsList(t *testing.T) {
	srv := httptest.NewServer((&fakeServer{}).router())
	defer srv.Close()

	out, err := execute(t, srv, "executions", "list", "-s", "python")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "SUCCESS")
}
