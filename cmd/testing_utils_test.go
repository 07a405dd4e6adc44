package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/nixsecrets/nixos-secrets/internal/engine"
	"github.com/nixsecrets/nixos-secrets/internal/testutil"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// testProject is a project directory with a box keyring. The configured
// private key directory holds hostA's key; remoteKeys holds hostB's and
// hostC's, standing in for other machines.
type testProject struct {
	dir        string
	localKeys  string
	remoteKeys string
}

// setupProject creates a project in a temp dir, writes its configuration
// and manifest, and moves into it for the duration of the test.
func setupProject(t *testing.T, manifest string) *testProject {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))

	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to resolve project dir: %v", err)
	}
	p := &testProject{
		dir:        dir,
		localKeys:  filepath.Join(home, "local-keys"),
		remoteKeys: filepath.Join(home, "remote-keys"),
	}

	publicDir := filepath.Join(dir, "keys", "public")
	for _, d := range []string{publicDir, p.localKeys, p.remoteKeys} {
		if err := os.MkdirAll(d, 0700); err != nil {
			t.Fatalf("Failed to create %s: %v", d, err)
		}
	}
	local := engine.Keyring{PublicDir: publicDir, PrivateDir: p.localKeys}
	remote := engine.Keyring{PublicDir: publicDir, PrivateDir: p.remoteKeys}
	testutil.WriteBoxKey(t, local, "hostA", true)
	testutil.WriteBoxKey(t, remote, "hostB", true)
	testutil.WriteBoxKey(t, remote, "hostC", true)

	config := `[store]
dir = "secrets"

[keyring]
engine = "box"
public_dir = "keys/public"
private_dir = "` + filepath.ToSlash(p.localKeys) + `"

[rekey]
workers = 2
`
	p.write(t, "nixos-secrets.toml", config)
	p.write(t, "secrets.toml", manifest)

	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change to project directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(originalWd); err != nil {
			t.Fatalf("Failed to change to original directory: %v", err)
		}
	})
	return p
}

func (p *testProject) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(p.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", rel, err)
	}
}

func (p *testProject) read(t *testing.T, rel string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(p.dir, rel))
	if err != nil {
		t.Fatalf("Failed to read %s: %v", rel, err)
	}
	return data
}

func (p *testProject) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(p.dir, rel))
	return err == nil
}

// runCLI executes the command line with args, feeding stdin to the command
// and returning everything it printed.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetCommandState()

	restore := feedStdin(t, stdin)
	defer restore()

	if args == nil {
		// A nil slice makes cobra fall back to the test binary's arguments.
		args = []string{}
	}
	SecretsCmd.SetArgs(args)
	return captureOutput(func() error {
		return SecretsCmd.ExecuteContext(context.Background())
	})
}

// feedStdin replaces os.Stdin with a pipe holding content.
func feedStdin(t *testing.T, content string) func() {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create stdin pipe: %v", err)
	}
	if _, err := w.WriteString(content); err != nil {
		t.Fatalf("Failed to write stdin: %v", err)
	}
	w.Close()

	original := os.Stdin
	os.Stdin = r
	return func() {
		os.Stdin = original
		r.Close()
	}
}

// captureOutput captures both stdout and stderr during function execution.
func captureOutput(fn func() error) (string, error) {
	originalStdout := os.Stdout
	originalStderr := os.Stderr

	stdoutReader, stdoutWriter, _ := os.Pipe()
	stderrReader, stderrWriter, _ := os.Pipe()

	os.Stdout = stdoutWriter
	os.Stderr = stderrWriter

	stdoutChan := make(chan string, 1)
	stderrChan := make(chan string, 1)
	collect := func(r io.Reader, out chan<- string) {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		out <- buf.String()
	}
	go collect(stdoutReader, stdoutChan)
	go collect(stderrReader, stderrChan)

	err := fn()

	stdoutWriter.Close()
	stderrWriter.Close()

	os.Stdout = originalStdout
	os.Stderr = originalStderr

	return <-stdoutChan + <-stderrChan, err
}

// resetCommandState resets every command's global state and flag values.
func resetCommandState() {
	verbose = false
	debug = false
	configFile = ""
	Config = nil
	resetCreateCommandState()
	resetDeleteCommandState()
	resetCleanCommandState()
	resetRekeyCommandState()
	resetLogCommandState()
	resetFlags(SecretsCmd)
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}
