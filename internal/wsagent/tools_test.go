package wsagent

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
)

func newExecutor(t *testing.T, opts ...func(*Config)) (*toolExecutor, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{WorkingDir: dir}
	for _, o := range opts {
		o(&cfg)
	}
	return newToolExecutor(cfg), dir
}

func TestResolvePathRejectsEscape(t *testing.T) {
	e, _ := newExecutor(t)
	if _, err := e.resolvePath("../../etc/passwd"); err == nil {
		t.Fatal("expected rejection for a path that escapes the working directory")
	}
}

func TestResolvePathAllowsNestedPath(t *testing.T) {
	e, dir := newExecutor(t)
	full, err := e.resolvePath("a/b.txt")
	if err != nil {
		t.Fatalf("resolvePath: %v", err)
	}
	if full != filepath.Join(dir, "a", "b.txt") {
		t.Errorf("resolvePath = %q", full)
	}
}

func TestResolvePathNoWorkingDirDisabled(t *testing.T) {
	e := newToolExecutor(Config{})
	if _, err := e.resolvePath("a.txt"); err == nil {
		t.Fatal("expected an error when no working directory is configured")
	}
}

func TestReadWriteDeleteRoundTrip(t *testing.T) {
	e, _ := newExecutor(t)

	write := e.write(map[string]any{"path": "notes/todo.txt", "content": "buy milk"})
	if !write.Success {
		t.Fatalf("write failed: %+v", write)
	}

	read := e.read(map[string]any{"path": "notes/todo.txt"})
	if !read.Success || read.Data != "buy milk" {
		t.Errorf("read = %+v", read)
	}

	del := e.delete(map[string]any{"path": "notes/todo.txt"})
	if !del.Success {
		t.Fatalf("delete failed: %+v", del)
	}
	if again := e.read(map[string]any{"path": "notes/todo.txt"}); again.Success {
		t.Error("file should no longer exist after delete")
	}
}

func TestList(t *testing.T) {
	e, dir := newExecutor(t)
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	res := e.list(map[string]any{"path": "."})
	if !res.Success {
		t.Fatalf("list failed: %+v", res)
	}
	names, ok := res.Data.([]string)
	if !ok {
		t.Fatalf("Data type = %T", res.Data)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a.txt" || names[1] != "sub/" {
		t.Errorf("names = %v", names)
	}
}

func TestGlobToRegexDoubleStarCrossesSegments(t *testing.T) {
	re, err := globToRegex("**/*.go")
	if err != nil {
		t.Fatalf("globToRegex: %v", err)
	}
	if !re.MatchString("a/b/c.go") {
		t.Error("** should match across multiple path segments")
	}
	if !re.MatchString("c.go") {
		t.Error("** should also match zero segments")
	}
}

func TestGlobToRegexSingleStarStaysWithinSegment(t *testing.T) {
	re, err := globToRegex("*.go")
	if err != nil {
		t.Fatalf("globToRegex: %v", err)
	}
	if re.MatchString("a/b.go") {
		t.Error("single * must not cross a / boundary")
	}
	if !re.MatchString("b.go") {
		t.Error("single * should match within one segment")
	}
}

func TestGlobToRegexQuestionMarkMatchesOneNonSlashChar(t *testing.T) {
	re, err := globToRegex("file?.txt")
	if err != nil {
		t.Fatalf("globToRegex: %v", err)
	}
	if !re.MatchString("file1.txt") {
		t.Error("? should match a single non-/ character")
	}
	if re.MatchString("file12.txt") {
		t.Error("? must match exactly one character")
	}
	if re.MatchString("file/.txt") {
		t.Error("? must not match /")
	}
}

func TestGlob(t *testing.T) {
	e, dir := newExecutor(t)
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "src", "main.go"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0o644)

	res := e.glob(map[string]any{"pattern": "**/*.go"})
	if !res.Success {
		t.Fatalf("glob failed: %+v", res)
	}
	matches, _ := res.Data.([]string)
	if len(matches) != 1 || matches[0] != "src/main.go" {
		t.Errorf("matches = %v", matches)
	}
}

func TestRipgrep(t *testing.T) {
	e, dir := newExecutor(t)
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello\nworld\nfoobar\n"), 0o644)

	res := e.ripgrep(map[string]any{"pattern": "^foo"})
	if !res.Success {
		t.Fatalf("ripgrep failed: %+v", res)
	}
}

func TestRunCommandDisabledByDefault(t *testing.T) {
	e, _ := newExecutor(t)
	res := e.runCommand(context.Background(), map[string]any{"command": "echo hi"})
	if res.Success {
		t.Error("run_command should be disabled unless AllowRunCommand is set")
	}
}

func TestRunCommandForegroundEnabled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh -c")
	}
	e, _ := newExecutor(t, func(c *Config) { c.AllowRunCommand = true })
	res := e.runCommand(context.Background(), map[string]any{"command": "echo hello-world"})
	if !res.Success {
		t.Fatalf("runCommand failed: %+v", res)
	}
	out, _ := res.Data.(string)
	if out != "hello-world\n" {
		t.Errorf("output = %q", out)
	}
}

func TestRunCommandBackgroundLifecycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh -c")
	}
	e, _ := newExecutor(t, func(c *Config) { c.AllowRunCommand = true })
	start := e.runCommand(context.Background(), map[string]any{
		"command": "echo done", "background": true, "bash_id": "bg1",
	})
	if !start.Success {
		t.Fatalf("starting background command: %+v", start)
	}

	deadline := make(chan struct{})
	go func() {
		for {
			res := e.backgroundOutput(map[string]any{"bash_id": "bg1"})
			data, _ := res.Data.(map[string]any)
			if data["done"] == true {
				close(deadline)
				return
			}
		}
	}()
	select {
	case <-deadline:
	case <-context.Background().Done():
	}
}

func TestBackgroundOutputUnknownID(t *testing.T) {
	e, _ := newExecutor(t)
	res := e.backgroundOutput(map[string]any{"bash_id": "nope"})
	if res.Success {
		t.Error("expected failure for an unknown bash_id")
	}
}

func TestExecuteDispatchesByOp(t *testing.T) {
	e, _ := newExecutor(t)
	res := e.Execute(context.Background(), "write", map[string]any{"path": "x.txt", "content": "y"})
	if !res.Success {
		t.Fatalf("Execute(write) = %+v", res)
	}
	res = e.Execute(context.Background(), "bogus", nil)
	if res.Success || res.Error == "" {
		t.Errorf("Execute(unknown op) = %+v, want a failure", res)
	}
}
