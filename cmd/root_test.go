package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	flagConfig, flagExport, flagFeedCategory, flagOPML, flagListen = "", "", "", "", ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "log_level: error\nstore:\n  driver: sqlite\n  dsn: "+filepath.Join(dir, "data", "news.db")+"\n")
	return path
}

func TestVersion(t *testing.T) {
	SetVersionInfo("1.2.3", "abc", "today")
	defer SetVersionInfo("dev", "none", "unknown")

	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "micronews 1.2.3 (commit: abc") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestUploadAndExport(t *testing.T) {
	cfg := testConfig(t)
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.json"), `{"title":"A","date":"2024-01-01","category":"politics","content":"x","tags":["frog"]}`)
	writeFile(t, filepath.Join(src, "b.json"), `{"id":"custom","title":"B","date":"2024-01-02","category":"disaster","content":"y"}`)
	writeFile(t, filepath.Join(src, "notes.txt"), "ignored")

	out, err := run(t, "--config", cfg, "upload", src)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.Contains(out, "Uploaded 2 article(s)") {
		t.Errorf("unexpected output %q", out)
	}

	dst := filepath.Join(t.TempDir(), "export")
	if _, err := run(t, "--config", cfg, "upload", "--export", dst); err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, name := range []string{"a.json", "custom.json"} {
		if _, err := os.Stat(filepath.Join(dst, name)); err != nil {
			t.Errorf("expected %s in export: %v", name, err)
		}
	}
}

func TestUploadBadFileWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.json"), `{"title":"A","date":"2024-01-01"}`)
	writeFile(t, filepath.Join(src, "b.json"), `{not json`)

	_, err := run(t, "--config", cfg, "upload", src)
	if err == nil || !strings.Contains(err.Error(), "b.json") {
		t.Fatalf("expected error naming b.json, got %v", err)
	}

	dst := filepath.Join(t.TempDir(), "export")
	out, err := run(t, "--config", cfg, "upload", "--export", dst)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "Exported 0 article(s)") {
		t.Errorf("store should be empty, got %q", out)
	}
}

func TestUploadRequiresDir(t *testing.T) {
	if _, err := run(t, "--config", testConfig(t), "upload"); err == nil {
		t.Error("expected error without a directory")
	}
}

func TestImportFeedWithoutFeeds(t *testing.T) {
	_, err := run(t, "--config", testConfig(t), "import-feed")
	if err == nil || !strings.Contains(err.Error(), "no feeds") {
		t.Errorf("expected no feeds error, got %v", err)
	}
}

const pondFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Pond</title>
<item><title>Rain tomorrow</title><guid>rain-1</guid><pubDate>Tue, 02 Jan 2024 10:00:00 +0000</pubDate><description>wet</description></item>
</channel></rss>`

func TestImportFeedFromOPML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(pondFeed))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	subs := filepath.Join(t.TempDir(), "subs.opml")
	writeFile(t, subs, `<opml version="2.0"><body><outline text="environment"><outline text="Pond" xmlUrl="`+srv.URL+`/rss"/></outline></body></opml>`)

	out, err := run(t, "--config", cfg, "import-feed", "--opml", subs)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "Imported 1 article(s)") {
		t.Errorf("unexpected output %q", out)
	}

	dst := filepath.Join(t.TempDir(), "export")
	if _, err := run(t, "--config", cfg, "upload", "--export", dst); err != nil {
		t.Fatalf("export: %v", err)
	}
	files, _ := filepath.Glob(filepath.Join(dst, "*.json"))
	if len(files) != 1 {
		t.Fatalf("expected 1 exported article, got %d", len(files))
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), `"category": "environment"`) {
		t.Errorf("expected folder name as category, got %s", data)
	}
}

func TestImportFeedRejectsUnknownCategory(t *testing.T) {
	cfg := testConfig(t)
	for _, args := range [][]string{
		{"import-feed", "https://example.com/rss"},
		{"import-feed", "--category", "sports", "https://example.com/rss"},
	} {
		_, err := run(t, append([]string{"--config", cfg}, args...)...)
		if err == nil || !strings.Contains(err.Error(), "not one of site.categories") {
			t.Errorf("%v: expected category error, got %v", args, err)
		}
	}
}

func TestImportFeedOPMLUnknownFolderUsesCategoryFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(pondFeed))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	subs := filepath.Join(t.TempDir(), "subs.opml")
	writeFile(t, subs, `<opml version="2.0"><body><outline text="Weather"><outline text="Pond" xmlUrl="`+srv.URL+`/rss"/></outline></body></opml>`)

	if _, err := run(t, "--config", cfg, "import-feed", "--opml", subs); err == nil {
		t.Fatal("expected error for a folder that is not a site category")
	}
	if _, err := run(t, "--config", cfg, "import-feed", "--opml", subs, "--category", "disaster"); err != nil {
		t.Fatalf("import: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "export")
	if _, err := run(t, "--config", cfg, "upload", "--export", dst); err != nil {
		t.Fatalf("export: %v", err)
	}
	files, _ := filepath.Glob(filepath.Join(dst, "*.json"))
	if len(files) != 1 {
		t.Fatalf("expected 1 exported article, got %d", len(files))
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), `"category": "disaster"`) {
		t.Errorf("expected flag category, got %s", data)
	}
}
