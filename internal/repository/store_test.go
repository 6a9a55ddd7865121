package repository

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/repochat/repochat/internal/naming"
	"github.com/repochat/repochat/internal/repoerr"
	"github.com/repochat/repochat/internal/upload"
)

func TestCreateStoresFileInVersionDir(t *testing.T) {
	store, _ := newTestStore(t, 0)
	payload := []byte("<?php echo 'hi';\n")

	record, err := store.Create(context.Background(), "Repo One", textFile("index.php", payload))
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	if record.Name != "Repo_One" {
		t.Fatalf("名称应被清洗为 Repo_One, got %s", record.Name)
	}
	if record.Version != "20240101_120000" {
		t.Fatalf("unexpected version %s", record.Version)
	}
	if filepath.Base(record.StoragePath) != "Repo_One_20240101_120000" {
		t.Fatalf("unexpected storage path %s", record.StoragePath)
	}
	got, err := os.ReadFile(filepath.Join(record.StoragePath, "index.php"))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("存储内容应逐字节一致")
	}

	records, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(records) != 1 || records[0] != record {
		t.Fatalf("list 应只包含新建记录, got %+v", records)
	}
}

func TestCreateRejectsDisallowedExtension(t *testing.T) {
	store, _ := newTestStore(t, 0)

	_, err := store.Create(context.Background(), "demo", textFile("tool.exe", []byte("MZ")))
	if !repoerr.Is(err, repoerr.ExtensionNotAllowed) {
		t.Fatalf("expected ExtensionNotAllowed, got %v", err)
	}
	assertEmptyRoot(t, store)
}

func TestCreateRejectsOversizeWithoutDirectory(t *testing.T) {
	guardedClock := fixedClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	validator := upload.NewValidator(16, nil)
	store, err := NewStore(t.TempDir(), validator, WithClock(guardedClock))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	_, err = store.Create(context.Background(), "demo", textFile("big.md", bytes.Repeat([]byte("a"), 17)))
	if !repoerr.Is(err, repoerr.FileTooLarge) {
		t.Fatalf("expected FileTooLarge, got %v", err)
	}
	assertEmptyRoot(t, store)
}

func TestCreateRollsBackOnInvalidContent(t *testing.T) {
	store, _ := newTestStore(t, 0)

	_, err := store.Create(context.Background(), "demo", textFile("blob.py", []byte{0x7f, 'E', 'L', 'F', 0x00, 0x00}))
	if !repoerr.Is(err, repoerr.InvalidContent) {
		t.Fatalf("expected InvalidContent, got %v", err)
	}
	assertEmptyRoot(t, store)
}

func TestCreateRejectsMeaninglessName(t *testing.T) {
	store, _ := newTestStore(t, 0)

	for _, raw := range []string{"", "   ", "!!!", "___"} {
		_, err := store.Create(context.Background(), raw, textFile("a.md", []byte("x")))
		if !repoerr.Is(err, repoerr.InvalidName) {
			t.Fatalf("%q: expected InvalidName, got %v", raw, err)
		}
	}
	assertEmptyRoot(t, store)
}

func TestCreateTruncatesLongNameToFitVersionSuffix(t *testing.T) {
	store, _ := newTestStore(t, 0)
	raw := strings.Repeat("a", 255)

	record, err := store.Create(context.Background(), raw, textFile("a.py", []byte("print(1)\n")))
	if err != nil {
		t.Fatalf("超长名称应被截断而不是失败: %v", err)
	}
	if len(record.Name) != naming.MaxNameLength {
		t.Fatalf("名称应截断到 %d, got %d", naming.MaxNameLength, len(record.Name))
	}
	if len(filepath.Base(record.StoragePath)) > naming.MaxLength {
		t.Fatalf("目录名超过单个路径分量上限: %d", len(filepath.Base(record.StoragePath)))
	}

	latest, err := store.ResolveLatest(context.Background(), raw)
	if err != nil {
		t.Fatalf("同一原始名称应能解析: %v", err)
	}
	if latest != record.StoragePath {
		t.Fatalf("expected %s, got %s", record.StoragePath, latest)
	}
}

func TestSequentialCreatesResolveToLatest(t *testing.T) {
	store, clock := newTestStore(t, 0)

	first, err := store.Create(context.Background(), "demo", textFile("a.md", []byte("v1")))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	clock.advance(90 * time.Second)
	second, err := store.Create(context.Background(), "demo", textFile("a.md", []byte("v2")))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.Version <= first.Version {
		t.Fatalf("版本应递增: %s <= %s", second.Version, first.Version)
	}

	latest, err := store.ResolveLatest(context.Background(), "demo")
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if latest != second.StoragePath {
		t.Fatalf("expected %s, got %s", second.StoragePath, latest)
	}
}

func TestSameSecondCreatesBumpVersion(t *testing.T) {
	store, _ := newTestStore(t, 0)

	first, err := store.Create(context.Background(), "demo", textFile("a.md", []byte("v1")))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := store.Create(context.Background(), "demo", textFile("a.md", []byte("v2")))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.Version != "20240101_120000" || second.Version != "20240101_120001" {
		t.Fatalf("同一秒的第二次上传应顺延一秒, got %s / %s", first.Version, second.Version)
	}
}

func TestCreateConflictAfterExhaustedSlots(t *testing.T) {
	store, _ := newTestStore(t, 0)

	for i := 0; i < maxVersionAttempts; i++ {
		if _, err := store.Create(context.Background(), "demo", textFile("a.md", []byte("x"))); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	_, err := store.Create(context.Background(), "demo", textFile("a.md", []byte("x")))
	if !repoerr.Is(err, repoerr.RepositoryConflict) {
		t.Fatalf("expected RepositoryConflict, got %v", err)
	}
}

func TestConcurrentCreatesGetDistinctVersions(t *testing.T) {
	store, _ := newTestStore(t, 0)

	const workers = maxVersionAttempts
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		seen     = make(map[string]struct{})
		errsSeen []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, err := store.Create(context.Background(), "demo", textFile("a.md", []byte("x")))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errsSeen = append(errsSeen, err)
				return
			}
			seen[record.Version] = struct{}{}
		}()
	}
	wg.Wait()

	if len(errsSeen) > 0 {
		t.Fatalf("并发创建不应失败: %v", errsSeen)
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct versions, got %d", workers, len(seen))
	}
}

func TestResolveLatestNotFound(t *testing.T) {
	store, _ := newTestStore(t, 0)

	_, err := store.ResolveLatest(context.Background(), "missing")
	if !repoerr.Is(err, repoerr.RepositoryNotFound) {
		t.Fatalf("expected RepositoryNotFound, got %v", err)
	}
}

func TestResolveLatestMatchesExactName(t *testing.T) {
	store, _ := newTestStore(t, 0)
	mkdirs(t, store.Root(), "demo_20240101_000000", "demo_extra_20250101_000000")

	latest, err := store.ResolveLatest(context.Background(), "demo")
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if filepath.Base(latest) != "demo_20240101_000000" {
		t.Fatalf("demo 不应解析到 demo_extra, got %s", latest)
	}
}

func TestListSkipsForeignEntries(t *testing.T) {
	store, _ := newTestStore(t, 0)
	root := store.Root()
	mkdirs(t, root,
		"weird__name_20240101_000000",
		"wéird_20240101_000000",
		"noversion",
		"___20240101_000000",
		"beta_20240102_000000",
	)
	if err := os.WriteFile(filepath.Join(root, "file_20240101_000000"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	records, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	var names []string
	for _, r := range records {
		names = append(names, r.DirName())
	}
	if strings.Join(names, ",") != "beta_20240102_000000,weird__name_20240101_000000" {
		t.Fatalf("unexpected records %v", names)
	}
}

func TestListMissingRootIsEmpty(t *testing.T) {
	store, _ := newTestStore(t, 0)
	if err := os.RemoveAll(store.Root()); err != nil {
		t.Fatalf("remove root: %v", err)
	}

	records, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("根目录缺失时应返回空列表, got %+v", records)
	}
}

func TestParseDirName(t *testing.T) {
	cases := []struct {
		entry   string
		name    string
		version string
		ok      bool
	}{
		{"demo_20240101_120000", "demo", "20240101_120000", true},
		{"a_b_c_20240101_120000", "a_b_c", "20240101_120000", true},
		{"legacy_v1", "legacy", "v1", true},
		{"noversion", "", "", false},
		{"trailing_", "", "", false},
		{"sp ace_20240101_120000", "", "", false},
	}
	for _, tc := range cases {
		name, version, ok := ParseDirName(tc.entry)
		if ok != tc.ok || name != tc.name || version != tc.version {
			t.Fatalf("%s: got (%q, %q, %v)", tc.entry, name, version, ok)
		}
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestStore(t *testing.T, maxSize int64) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store, err := NewStore(t.TempDir(), upload.NewValidator(maxSize, nil), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, clock
}

func textFile(name string, content []byte) upload.File {
	return upload.File{Name: name, Body: bytes.NewReader(content)}
}

func mkdirs(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.Mkdir(filepath.Join(root, name), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", name, err)
		}
	}
}

func assertEmptyRoot(t *testing.T, store *Store) {
	t.Helper()
	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("失败的上传不应留下目录, found %d entries", len(entries))
	}
}
