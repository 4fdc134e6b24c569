package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testManifest = `
app_version: "1"
steps:
  0001_items:
    def:
      - op: syncTable
        table: items
        columns:
          - {name: title, type: text}
`

// resetFlags restores package-level flag variables to their defaults.
// Cobra parses into these variables, so stale values from previous tests
// would leak if not reset.
func resetFlags() {
	storeRootOverride = ""
	storeJSONOutput = false
	createSchemaPath = ""
	createDescription = ""
	createIfNotExists = false
	deleteForce = false
	clientServerURL = ""
	clientStoreID = ""
	clientDBPath = ""
	clientSchema = ""
	clientJSON = false
	migrateTo = -1
	syncForce = true
}

// execute runs the root command with captured output.
func execute(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	resetFlags()
	t.Setenv("SIMPLESYNC_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)
	rootCmd.SetIn(nil)

	return outBuf.String(), errBuf.String(), err
}

// executeStoreCmd executes a store subcommand rooted at rootPath.
func executeStoreCmd(t *testing.T, rootPath string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	fullArgs := append([]string{"store"}, args...)
	fullArgs = append(fullArgs, "--root", rootPath)
	return execute(t, "", fullArgs...)
}

// executeStoreCmdWithStdin executes a store subcommand with piped stdin.
func executeStoreCmdWithStdin(t *testing.T, rootPath string, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	fullArgs := append([]string{"store"}, args...)
	fullArgs = append(fullArgs, "--root", rootPath)
	return execute(t, stdin, fullArgs...)
}

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(path, []byte(testManifest), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func decodeJSON(t *testing.T, raw string) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatalf("invalid JSON output: %v\nraw: %s", err, raw)
	}
	return result
}

// --- Create Tests ---

func TestStoreCreate_Defaults(t *testing.T) {
	root := t.TempDir()
	stdout, _, err := executeStoreCmd(t, root, "create", "my-project")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout, `Created store "my-project" (schema: v0)`) {
		t.Errorf("stdout = %q, want it to report an empty schema", stdout)
	}

	// Verify store directory was created
	if _, err := os.Stat(filepath.Join(root, "my-project", "meta.yaml")); os.IsNotExist(err) {
		t.Error("store directory with meta.yaml was not created")
	}
}

func TestStoreCreate_WithSchema(t *testing.T) {
	root := t.TempDir()
	stdout, _, err := executeStoreCmd(t, root, "create", "my-project",
		"--schema", writeManifest(t), "--description", "My project")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout, "(schema: v1)") {
		t.Errorf("stdout = %q, want it to contain '(schema: v1)'", stdout)
	}
	if _, err := os.Stat(filepath.Join(root, "my-project", "schema.yaml")); err != nil {
		t.Errorf("schema.yaml not written: %v", err)
	}
}

func TestStoreCreate_MissingSchemaFile(t *testing.T) {
	root := t.TempDir()
	_, _, err := executeStoreCmd(t, root, "create", "my-project", "--schema", filepath.Join(root, "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read schema") {
		t.Fatalf("err = %v, want read schema error", err)
	}
}

func TestStoreCreate_NestedID(t *testing.T) {
	root := t.TempDir()
	stdout, _, err := executeStoreCmd(t, root, "create", "org/team/project")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout, `Created store "org/team/project"`) {
		t.Errorf("stdout = %q, want it to contain 'Created store \"org/team/project\"'", stdout)
	}

	// Verify nested directory structure
	if _, err := os.Stat(filepath.Join(root, "org", "team", "project", "meta.yaml")); os.IsNotExist(err) {
		t.Error("nested store directory was not created")
	}
}

func TestStoreCreate_DuplicateFails(t *testing.T) {
	root := t.TempDir()

	if _, _, err := executeStoreCmd(t, root, "create", "my-project"); err != nil {
		t.Fatalf("setup: unexpected error: %v", err)
	}

	_, _, err := executeStoreCmd(t, root, "create", "my-project")
	if err == nil {
		t.Fatal("expected error for duplicate store, got nil")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("error = %q, want it to contain 'already exists'", err.Error())
	}
}

func TestStoreCreate_DuplicateWithIfNotExists(t *testing.T) {
	root := t.TempDir()

	if _, _, err := executeStoreCmd(t, root, "create", "my-project"); err != nil {
		t.Fatalf("setup: unexpected error: %v", err)
	}

	_, stderr, err := executeStoreCmd(t, root, "create", "my-project", "--if-not-exists")
	if err != nil {
		t.Fatalf("unexpected error with --if-not-exists: %v", err)
	}
	if !strings.Contains(stderr, "already exists") {
		t.Errorf("stderr = %q, want it to contain 'already exists'", stderr)
	}
}

func TestStoreCreate_InvalidID(t *testing.T) {
	root := t.TempDir()
	_, _, err := executeStoreCmd(t, root, "create", "Invalid/ID")
	if err == nil {
		t.Fatal("expected error for invalid store ID, got nil")
	}
	if !strings.Contains(err.Error(), "invalid store ID") {
		t.Errorf("error = %q, want it to contain 'invalid store ID'", err.Error())
	}
}

func TestStoreCreate_JSONOutput(t *testing.T) {
	root := t.TempDir()
	stdout, _, err := executeStoreCmd(t, root, "create", "my-project", "--schema", writeManifest(t), "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := decodeJSON(t, stdout)
	if result["id"] != "my-project" {
		t.Errorf("JSON id = %v, want 'my-project'", result["id"])
	}
	if result["app_version"] != "1" {
		t.Errorf("JSON app_version = %v, want '1'", result["app_version"])
	}
	if result["schema_version"] != float64(1) {
		t.Errorf("JSON schema_version = %v, want 1", result["schema_version"])
	}
	if _, ok := result["created"]; !ok {
		t.Error("JSON missing 'created' field")
	}
}

func TestStoreCreate_JSONOutputIfNotExists(t *testing.T) {
	root := t.TempDir()

	if _, _, err := executeStoreCmd(t, root, "create", "my-project"); err != nil {
		t.Fatalf("setup: unexpected error: %v", err)
	}

	stdout, _, err := executeStoreCmd(t, root, "create", "my-project", "--if-not-exists", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result := decodeJSON(t, stdout); result["already_existed"] != true {
		t.Errorf("JSON already_existed = %v, want true", result["already_existed"])
	}
}

// --- List Tests ---

func TestStoreList_Empty(t *testing.T) {
	root := t.TempDir()
	stdout, _, err := executeStoreCmd(t, root, "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout, "No stores found.") {
		t.Errorf("stdout = %q, want it to contain 'No stores found.'", stdout)
	}
}

func TestStoreList_MultipleStores(t *testing.T) {
	root := t.TempDir()

	for _, id := range []string{"default", "project-a", "org/project-b"} {
		if _, _, err := executeStoreCmd(t, root, "create", id); err != nil {
			t.Fatalf("setup: create %q: %v", id, err)
		}
	}

	stdout, _, err := executeStoreCmd(t, root, "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, id := range []string{"default", "project-a", "org/project-b"} {
		if !strings.Contains(stdout, id) {
			t.Errorf("stdout missing store %q:\n%s", id, stdout)
		}
	}

	if !strings.Contains(stdout, "ID") || !strings.Contains(stdout, "SCHEMA") {
		t.Errorf("stdout missing table header:\n%s", stdout)
	}

	// Sorted: default < org/project-b < project-a
	defaultIdx := strings.Index(stdout, "default")
	orgIdx := strings.Index(stdout, "org/project-b")
	projectIdx := strings.Index(stdout, "project-a")
	if defaultIdx >= orgIdx || orgIdx >= projectIdx {
		t.Errorf("stores not sorted alphabetically:\n%s", stdout)
	}
}

func TestStoreList_JSONOutput(t *testing.T) {
	root := t.TempDir()

	if _, _, err := executeStoreCmd(t, root, "create", "my-project"); err != nil {
		t.Fatalf("setup: %v", err)
	}

	stdout, _, err := executeStoreCmd(t, root, "list", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := decodeJSON(t, stdout)
	stores, ok := result["stores"].([]any)
	if !ok {
		t.Fatalf("JSON 'stores' field missing or not an array")
	}
	if len(stores) != 1 {
		t.Errorf("JSON stores count = %d, want 1", len(stores))
	}
	if total, _ := result["total"].(float64); int(total) != 1 {
		t.Errorf("JSON total = %v, want 1", result["total"])
	}
}

// --- Info Tests ---

func TestStoreInfo_Existing(t *testing.T) {
	root := t.TempDir()

	_, _, err := executeStoreCmd(t, root, "create", "my-project",
		"--description", "Test store", "--schema", writeManifest(t))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	stdout, _, err := executeStoreCmd(t, root, "info", "my-project")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []string{
		"Store:         my-project",
		"Description:   Test store",
		"App Version:   1",
		"Schema:        v1",
		"Path:",
		"TABLE",
		"items",
	}
	for _, check := range checks {
		if !strings.Contains(stdout, check) {
			t.Errorf("stdout missing %q:\n%s", check, stdout)
		}
	}
}

func TestStoreInfo_Nonexistent(t *testing.T) {
	root := t.TempDir()

	_, _, err := executeStoreCmd(t, root, "info", "nonexistent")
	if err == nil {
		t.Fatal("expected error for nonexistent store, got nil")
	}
	if !strings.Contains(err.Error(), "store not found") {
		t.Errorf("error = %q, want it to contain 'store not found'", err.Error())
	}
}

func TestStoreInfo_JSONOutput(t *testing.T) {
	root := t.TempDir()

	if _, _, err := executeStoreCmd(t, root, "create", "my-project", "--description", "Test store"); err != nil {
		t.Fatalf("setup: %v", err)
	}

	stdout, _, err := executeStoreCmd(t, root, "info", "my-project", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := decodeJSON(t, stdout)
	if result["id"] != "my-project" {
		t.Errorf("JSON id = %v, want 'my-project'", result["id"])
	}
	if result["description"] != "Test store" {
		t.Errorf("JSON description = %v, want 'Test store'", result["description"])
	}
	for _, key := range []string{"path", "schema_version", "db_ident", "records"} {
		if _, ok := result[key]; !ok {
			t.Errorf("JSON missing %q field", key)
		}
	}
}

// --- Schema Tests ---

func TestStoreSchema_Installs(t *testing.T) {
	root := t.TempDir()

	if _, _, err := executeStoreCmd(t, root, "create", "my-project"); err != nil {
		t.Fatalf("setup: %v", err)
	}

	stdout, _, err := executeStoreCmd(t, root, "schema", "my-project", writeManifest(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "Installed schema 1 (v1)") {
		t.Errorf("stdout = %q, want install confirmation", stdout)
	}

	// Then: A reopened store still carries it
	stdout, _, err = executeStoreCmd(t, root, "info", "my-project")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !strings.Contains(stdout, "Schema:        v1") {
		t.Errorf("schema not persisted:\n%s", stdout)
	}
}

func TestStoreSchema_InvalidManifest(t *testing.T) {
	root := t.TempDir()

	if _, _, err := executeStoreCmd(t, root, "create", "my-project"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("steps: [not, a, map"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := executeStoreCmd(t, root, "schema", "my-project", bad); err == nil {
		t.Fatal("expected error for invalid manifest, got nil")
	}
}

// --- Snapshot Tests ---

func TestStoreSnapshot_WritesLocalCopy(t *testing.T) {
	root := t.TempDir()
	if _, _, err := executeStoreCmd(t, root, "create", "my-project", "--schema", writeManifest(t)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	stdout, _, err := executeStoreCmd(t, root, "snapshot", "my-project", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := decodeJSON(t, stdout)
	want := filepath.Join(root, "my-project", "_snapshot", "current.db")
	if out["path"] != want {
		t.Errorf("path = %v, want %s", out["path"], want)
	}
	if out["uploaded"] != false {
		t.Errorf("uploaded = %v without a bucket", out["uploaded"])
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}

	// Then: The snapshot directory is not listed as a store
	stdout, _, err = executeStoreCmd(t, root, "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total := decodeJSON(t, stdout)["total"]; total != float64(1) {
		t.Errorf("total = %v, want 1", total)
	}
}

func TestStoreSnapshot_Nonexistent(t *testing.T) {
	if _, _, err := executeStoreCmd(t, t.TempDir(), "snapshot", "ghost"); err == nil {
		t.Fatal("expected error for missing store")
	}
}

// --- Delete Tests ---

func TestStoreDelete_WithForce(t *testing.T) {
	root := t.TempDir()

	if _, _, err := executeStoreCmd(t, root, "create", "my-project"); err != nil {
		t.Fatalf("setup: %v", err)
	}

	stdout, _, err := executeStoreCmd(t, root, "delete", "my-project", "--force")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout, `Deleted store "my-project"`) {
		t.Errorf("stdout = %q, want it to contain 'Deleted store \"my-project\"'", stdout)
	}
	if _, err := os.Stat(filepath.Join(root, "my-project")); !os.IsNotExist(err) {
		t.Error("store directory still exists after deletion")
	}
}

func TestStoreDelete_DefaultStoreRejected(t *testing.T) {
	root := t.TempDir()

	_, _, err := executeStoreCmd(t, root, "delete", "default", "--force")
	if err == nil {
		t.Fatal("expected error for deleting default store, got nil")
	}
	if !strings.Contains(err.Error(), "cannot delete the default store") {
		t.Errorf("error = %q, want it to contain 'cannot delete the default store'", err.Error())
	}
}

func TestStoreDelete_Nonexistent(t *testing.T) {
	root := t.TempDir()

	_, _, err := executeStoreCmd(t, root, "delete", "nonexistent", "--force")
	if err == nil {
		t.Fatal("expected error for deleting nonexistent store, got nil")
	}
	if !strings.Contains(err.Error(), "store not found") {
		t.Errorf("error = %q, want it to contain 'store not found'", err.Error())
	}
}

func TestStoreDelete_InteractiveConfirmation(t *testing.T) {
	root := t.TempDir()

	if _, _, err := executeStoreCmd(t, root, "create", "my-project"); err != nil {
		t.Fatalf("setup: %v", err)
	}

	stdout, _, err := executeStoreCmdWithStdin(t, root, "my-project\n", "delete", "my-project")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout, `Deleted store "my-project"`) {
		t.Errorf("stdout = %q, want it to contain 'Deleted store \"my-project\"'", stdout)
	}
	if _, err := os.Stat(filepath.Join(root, "my-project")); !os.IsNotExist(err) {
		t.Error("store directory still exists after confirmed deletion")
	}
}

func TestStoreDelete_InteractiveAbort(t *testing.T) {
	root := t.TempDir()

	if _, _, err := executeStoreCmd(t, root, "create", "my-project"); err != nil {
		t.Fatalf("setup: %v", err)
	}

	_, stderr, err := executeStoreCmdWithStdin(t, root, "wrong\n", "delete", "my-project")
	if err != nil {
		t.Fatalf("unexpected error (abort should not be an error): %v", err)
	}

	if !strings.Contains(stderr, "Aborted") {
		t.Errorf("stderr = %q, want it to contain 'Aborted'", stderr)
	}
	if _, err := os.Stat(filepath.Join(root, "my-project", "meta.yaml")); os.IsNotExist(err) {
		t.Error("store directory should still exist after aborted deletion")
	}
}

func TestStoreDelete_ConfirmationDescribesDataset(t *testing.T) {
	root := t.TempDir()

	if _, _, err := executeStoreCmd(t, root, "create", "my-project", "--schema", writeManifest(t)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	_, stderr, err := executeStoreCmdWithStdin(t, root, "no\n", "delete", "my-project")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stderr, "schema v1 (app 1), 1 tables, 0 records") {
		t.Errorf("stderr = %q, want the dataset summary", stderr)
	}
}

func TestStoreDelete_JSONReportsRemovedData(t *testing.T) {
	root := t.TempDir()

	if _, _, err := executeStoreCmd(t, root, "create", "org/team", "--schema", writeManifest(t)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	stdout, _, err := executeStoreCmd(t, root, "delete", "org/team", "--force", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := decodeJSON(t, stdout)
	if out["id"] != "org/team" || out["deleted"] != true || out["schema_version"] != float64(1) {
		t.Errorf("output = %v", out)
	}
	if _, err := os.Stat(filepath.Join(root, "org", "team")); !os.IsNotExist(err) {
		t.Error("nested store directory still exists after deletion")
	}
}

// --- Config Resolution Tests ---

func TestStoreConfig_NoAPIKeyRequired(t *testing.T) {
	root := t.TempDir()
	t.Setenv("SIMPLESYNC_API_KEY", "")
	t.Setenv("SIMPLESYNC_DEV_MODE", "")

	stdout, _, err := executeStoreCmd(t, root, "list")
	if err != nil {
		t.Fatalf("store list should work without API keys, got error: %v", err)
	}
	if !strings.Contains(stdout, "No stores found.") {
		t.Errorf("stdout = %q, want 'No stores found.'", stdout)
	}
}

func TestStoreConfig_RootFromEnv(t *testing.T) {
	root := t.TempDir()
	t.Setenv("SIMPLESYNC_STORES_ROOT", root)

	if _, _, err := execute(t, "", "store", "create", "from-env"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "from-env", "meta.yaml")); os.IsNotExist(err) {
		t.Error("store was not created under SIMPLESYNC_STORES_ROOT")
	}
}
