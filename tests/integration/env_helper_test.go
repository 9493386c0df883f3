package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmedlin/touchdb/internal/config"
	"github.com/fmedlin/touchdb/internal/services"
)

// serviceEnv is one running TouchDB instance.
type serviceEnv struct {
	BaseURL string
	Token   string
	Manager *services.Manager
	Cancel  func()
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// setupServiceEnv starts an instance on a free port. withAuth turns on
// bearer authentication with a key generated in a temp dir.
func setupServiceEnv(t *testing.T, withAuth bool, configure ...func(*config.Config)) *serviceEnv {
	t.Helper()
	cfg := config.LoadConfig()
	cfg.Server.Port = freePort(t)
	cfg.Events.Enabled = false
	cfg.Auth.Enabled = withAuth
	cfg.Auth.PrivateKeyFile = filepath.Join(t.TempDir(), "keys", "auth_private.pem")
	cfg.Replication.ConnectTimeout = 2 * time.Second
	for _, fn := range configure {
		fn(cfg)
	}

	mgr := services.NewManager(cfg, services.Options{ListenHost: "127.0.0.1", Version: "integration"})
	initCtx, initCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer initCancel()
	require.NoError(t, mgr.Init(initCtx))

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	env := &serviceEnv{
		BaseURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		Manager: mgr,
	}
	if withAuth {
		token, err := mgr.TokenService().GenerateToken("integration", []string{"admin"})
		require.NoError(t, err)
		env.Token = token
	}

	var stopped bool
	env.Cancel = func() {
		if stopped {
			return
		}
		stopped = true
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		mgr.Shutdown(shutdownCtx)
		cancel()
	}
	t.Cleanup(env.Cancel)

	require.Eventually(t, func() bool {
		resp, err := http.Get(env.BaseURL + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 3*time.Second, 20*time.Millisecond)
	return env
}

func (e *serviceEnv) MakeRequest(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(mustMarshal(body))
	}
	req, err := http.NewRequest(method, e.BaseURL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if e.Token != "" {
		req.Header.Set("Authorization", "Bearer "+e.Token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// DoJSON makes a request and decodes the JSON object it returns.
func (e *serviceEnv) DoJSON(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	resp := e.MakeRequest(t, method, path, body)
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func TestEnvHelper(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	env := setupServiceEnv(t, true)
	defer env.Cancel()

	t.Run("Token", func(t *testing.T) {
		assert.NotEmpty(t, env.Token)
	})

	t.Run("MakeRequest", func(t *testing.T) {
		resp := env.MakeRequest(t, http.MethodGet, "/", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "TouchDB/integration (Go)", resp.Header.Get("Server"))
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		resp, err := http.Get(env.BaseURL + "/_all_dbs")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestMustMarshal(t *testing.T) {
	input := map[string]string{"key": "value"}
	output := mustMarshal(input)
	var result map[string]string
	require.NoError(t, json.Unmarshal(output, &result))
	assert.Equal(t, input, result)

	assert.Panics(t, func() {
		mustMarshal(make(chan int))
	})
}
