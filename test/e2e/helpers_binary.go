//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperengineering/simplesync/pkg/simplesync"
)

// syncServer manages a running simplesync server process.
type syncServer struct {
	cmd     *exec.Cmd
	dataDir string
	port    int
	address string
	apiKey  string
	logFile string
}

// startServer launches the binary's serve command and waits for it to
// become healthy. It is configured entirely via environment variables.
func startServer(t *testing.T) *syncServer {
	t.Helper()
	requireServer(t)

	s := &syncServer{
		dataDir: t.TempDir(),
		apiKey:  "e2e-test-api-key",
	}
	s.launch(t, freePort(t), "server.log")
	return s
}

func (s *syncServer) launch(t *testing.T, port int, logName string) {
	t.Helper()

	s.port = port
	s.address = fmt.Sprintf("127.0.0.1:%d", port)
	s.logFile = filepath.Join(s.dataDir, logName)

	cmd := exec.Command(simplesyncBin, "serve")
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("SIMPLESYNC_PORT=%d", port),
		"SIMPLESYNC_API_KEY="+s.apiKey,
		"SIMPLESYNC_STORES_ROOT="+filepath.Join(s.dataDir, "stores"),
		"SIMPLESYNC_CONFIG_PATH="+filepath.Join(s.dataDir, "nonexistent.yaml"), // skip YAML file
	)

	lf, err := os.Create(s.logFile)
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}
	cmd.Stdout = lf
	cmd.Stderr = lf

	if err := cmd.Start(); err != nil {
		lf.Close()
		t.Fatalf("start simplesync: %v", err)
	}
	s.cmd = cmd

	t.Cleanup(func() {
		s.stop()
		lf.Close()
	})

	if err := s.waitHealthy(10 * time.Second); err != nil {
		t.Fatalf("simplesync not healthy: %v", err)
	}
}

func (s *syncServer) stop() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(os.Interrupt)
		_ = s.cmd.Wait()
	}
}

// restartOnSameData starts the server again on its old port over the same
// data directory, so open replicas reconnect without reconfiguration.
func (s *syncServer) restartOnSameData(t *testing.T) {
	t.Helper()
	s.stop()
	time.Sleep(200 * time.Millisecond) // allow port release
	s.launch(t, s.port, "server-restart.log")
}

func (s *syncServer) baseURL() string {
	return fmt.Sprintf("http://%s", s.address)
}

func (s *syncServer) waitHealthy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("%s/api/v1/health", s.baseURL())

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("simplesync not healthy after %s", timeout)
}

// createStore creates a dataset through the admin API.
func (s *syncServer) createStore(t *testing.T, id, schema string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"id":          id,
		"description": "e2e test store",
		"schema":      schema,
	})
	status, resp := s.do(t, http.MethodPost, "/api/v1/stores", body)
	if status != http.StatusCreated {
		t.Fatalf("create store: status %d: %s", status, resp)
	}
}

// putSchema installs a new manifest on a dataset.
func (s *syncServer) putSchema(t *testing.T, id, schema string) {
	t.Helper()
	status, resp := s.do(t, http.MethodPut, "/api/v1/stores/"+id+"/schema", []byte(schema))
	if status != http.StatusOK {
		t.Fatalf("put schema: status %d: %s", status, resp)
	}
}

// storeInfo returns the dataset's GET /stores/{id} document.
func (s *syncServer) storeInfo(t *testing.T, id string) map[string]any {
	t.Helper()
	status, resp := s.do(t, http.MethodGet, "/api/v1/stores/"+id, nil)
	if status != http.StatusOK {
		t.Fatalf("store info: status %d: %s", status, resp)
	}
	var out map[string]any
	if err := json.Unmarshal(resp, &out); err != nil {
		t.Fatalf("store info decode: %v", err)
	}
	return out
}

func (s *syncServer) do(t *testing.T, method, path string, body []byte) (int, []byte) {
	t.Helper()
	req, _ := http.NewRequest(method, s.baseURL()+path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

// replica opens a client library replica against the server. dir holds
// its database and schema so a test can reopen the same replica.
func (s *syncServer) replica(t *testing.T, storeID, dir string) *simplesync.Client {
	t.Helper()
	c, err := simplesync.Open(context.Background(), simplesync.Config{
		DBPath:     filepath.Join(dir, "replica.db"),
		SchemaPath: filepath.Join(dir, "schema.yaml"),
		ServerURL:  s.baseURL(),
		StoreID:    storeID,
		APIKey:     s.apiKey,
		Compress:   true,
	})
	if err != nil {
		t.Fatalf("open replica: %v", err)
	}
	t.Cleanup(func() { c.Shutdown(context.Background()) })
	return c
}

// mustSync runs a forced sync and fails unless it applied.
func mustSync(t *testing.T, c *simplesync.Client) simplesync.SyncResult {
	t.Helper()
	res, err := c.Sync(context.Background(), true)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Outcome != "applied" {
		t.Fatalf("sync outcome = %s, want applied", res.Outcome)
	}
	return res
}

// freePort returns a free TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
