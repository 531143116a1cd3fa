package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRootHonoursEnvOverride(t *testing.T) {
	t.Setenv(DataDirEnv, "/tmp/custom-shell-data")
	got, err := Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if got != "/tmp/custom-shell-data" {
		t.Errorf("Root() = %q, want /tmp/custom-shell-data", got)
	}
}

func TestRulesFileIsTopLevelUnderHomeRegardlessOfDataDir(t *testing.T) {
	t.Setenv("HOME", "/tmp/fake-home")
	t.Setenv(DataDirEnv, "/tmp/custom-shell-data")

	rulesPath, err := RulesFile()
	if err != nil {
		t.Fatalf("RulesFile: %v", err)
	}
	if rulesPath != "/tmp/fake-home/.mcp-cache-rules.json" {
		t.Errorf("RulesFile() = %q, want /tmp/fake-home/.mcp-cache-rules.json", rulesPath)
	}

	backupPath, err := RulesBackupFile()
	if err != nil {
		t.Fatalf("RulesBackupFile: %v", err)
	}
	if backupPath != "/tmp/fake-home/.mcp-cache-rules.backup.json" {
		t.Errorf("RulesBackupFile() = %q, want /tmp/fake-home/.mcp-cache-rules.backup.json", backupPath)
	}
}

func TestAtomicWriteCreatesFileAndBackup(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "rules.json")
	backupPath := filepath.Join(dir, "rules.json.backup")

	if err := AtomicWrite(target, []byte("v1"), backupPath); err != nil {
		t.Fatalf("first AtomicWrite: %v", err)
	}
	if _, err := os.Stat(backupPath); !os.IsNotExist(err) {
		t.Errorf("backup should not exist yet (no prior file): err=%v", err)
	}

	if err := AtomicWrite(target, []byte("v2"), backupPath); err != nil {
		t.Fatalf("second AtomicWrite: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil || string(data) != "v2" {
		t.Errorf("target content = %q, err=%v, want v2", data, err)
	}
	backupData, err := os.ReadFile(backupPath)
	if err != nil || string(backupData) != "v1" {
		t.Errorf("backup content = %q, err=%v, want v1", backupData, err)
	}
}

func TestAtomicWriteNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "rules.json")
	if err := AtomicWrite(target, []byte("v1"), ""); err != nil {
		t.Fatalf("AtomicWrite: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1 (no leftover temp files)", len(entries))
	}
}
