package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up4200/unpackd/archive"
	"github.com/s0up4200/unpackd/extractor"
	"github.com/s0up4200/unpackd/filter"
	"github.com/s0up4200/unpackd/qbittorrent"
	"github.com/s0up4200/unpackd/store"
	"github.com/s0up4200/unpackd/store/sqlite"
)

type mockTorrentClient struct {
	mu        sync.Mutex
	torrents  []*qbittorrent.TorrentInfo
	complete  map[string]bool
	statusErr map[string]error
	pauseErr  error
	paused    []string
	resumed   []string
}

func (m *mockTorrentClient) ListCompleted(ctx context.Context) ([]*qbittorrent.TorrentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*qbittorrent.TorrentInfo
	for _, t := range m.torrents {
		if m.complete[t.Hash] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTorrentClient) IsComplete(ctx context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.statusErr[hash]; err != nil {
		return false, err
	}
	for _, t := range m.torrents {
		if t.Hash == hash {
			return m.complete[hash], nil
		}
	}
	return false, qbittorrent.ErrTorrentNotFound
}

func (m *mockTorrentClient) Pause(ctx context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pauseErr != nil {
		return m.pauseErr
	}
	m.paused = append(m.paused, hash)
	return nil
}

func (m *mockTorrentClient) Resume(ctx context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumed = append(m.resumed, hash)
	return nil
}

func (m *mockTorrentClient) FindByPath(ctx context.Context, path string) (*qbittorrent.TorrentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.torrents {
		full := t.GetFullPath()
		if path == full || filepath.Dir(path) == full {
			return t, nil
		}
	}
	return nil, nil
}

type extractCall struct {
	primary string
	dest    string
}

type mockExtractor struct {
	mu    sync.Mutex
	err   error
	calls []extractCall
}

func (m *mockExtractor) Extract(ctx context.Context, primary, destDir string) (*extractor.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, extractCall{primary: primary, dest: destDir})
	if m.err != nil {
		return nil, m.err
	}
	return &extractor.Result{Output: "Everything is Ok"}, nil
}

// blockingExtractor parks inside Extract until released, so tests can
// observe what happens while an extraction is in flight.
type blockingExtractor struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func newBlockingExtractor() *blockingExtractor {
	return &blockingExtractor{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (m *blockingExtractor) Extract(ctx context.Context, primary, destDir string) (*extractor.Result, error) {
	m.mu.Lock()
	m.calls++
	first := m.calls == 1
	m.mu.Unlock()

	if first {
		close(m.started)
	}
	<-m.release
	return &extractor.Result{}, nil
}

func (m *blockingExtractor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockNotifier struct {
	mu    sync.Mutex
	names []string
}

func (m *mockNotifier) NotifyExtracted(ctx context.Context, jobName string) {
	m.mu.Lock()
	m.names = append(m.names, jobName)
	m.mu.Unlock()
}

func newTestRepo(t *testing.T) store.JobRepository {
	t.Helper()
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlite.NewJobRepository(db)
}

func newTestEngine(t *testing.T, torrents *mockTorrentClient, ex Extractor, notifier Notifier) (*Engine, store.JobRepository) {
	t.Helper()
	repo := newTestRepo(t)
	eng := New(repo, torrents, archive.NewDetector(), ex, notifier, zerolog.Nop())
	return eng, repo
}

func testSettings(root string) *Settings {
	return &Settings{
		MonitorPath:       root,
		PollInterval:      time.Second,
		Debounce:          time.Millisecond,
		StabilityInterval: 10 * time.Millisecond,
		MaxFailedPolls:    3,
		CreateSubfolder:   true,
		MaxParallel:       2,
		GraceTimeout:      time.Second,
	}
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("archive payload"), 0o644))
	}
}

func torrentFor(dir, hash string) *qbittorrent.TorrentInfo {
	return &qbittorrent.TorrentInfo{
		Hash:        hash,
		Name:        filepath.Base(dir),
		SavePath:    filepath.Dir(dir),
		ContentPath: dir,
		State:       "uploading",
		Progress:    1.0,
	}
}

func TestProcessPathExtractsCompleteSet(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Show.S01E01.1080p")
	writeFiles(t, dir, "Show.S01E01.rar", "Show.S01E01.r00", "Show.S01E01.r01", "Show.S01E01.r02", "Show.S01E01.r03")

	torrents := &mockTorrentClient{
		torrents: []*qbittorrent.TorrentInfo{torrentFor(dir, "abc123")},
		complete: map[string]bool{"abc123": true},
	}
	ex := &mockExtractor{}
	notifier := &mockNotifier{}
	eng, repo := newTestEngine(t, torrents, ex, notifier)

	err := eng.ProcessPath(context.Background(), dir, testSettings(root))
	require.NoError(t, err)

	job, err := repo.Get(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, job.Status)
	assert.Equal(t, filepath.Join(dir, "Show.S01E01.1080p"), job.DestinationPath)
	assert.Len(t, job.ArchiveSet, 5)

	require.Len(t, ex.calls, 1)
	assert.Equal(t, filepath.Join(dir, "Show.S01E01.rar"), ex.calls[0].primary)

	assert.Equal(t, []string{"abc123"}, torrents.paused)
	assert.Equal(t, []string{"abc123"}, torrents.resumed)
	assert.Equal(t, []string{"Show.S01E01.1080p"}, notifier.names)
}

func TestProcessPathWrongPassword(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Locked.Release")
	writeFiles(t, dir, "Locked.Release.rar")

	torrents := &mockTorrentClient{
		torrents: []*qbittorrent.TorrentInfo{torrentFor(dir, "def456")},
		complete: map[string]bool{"def456": true},
	}
	ex := &mockExtractor{err: &extractor.Error{
		Archive:  filepath.Join(dir, "Locked.Release.rar"),
		Cause:    extractor.CausePassword,
		ExitCode: 2,
	}}
	eng, repo := newTestEngine(t, torrents, ex, nil)

	err := eng.ProcessPath(context.Background(), dir, testSettings(root))
	require.NoError(t, err)

	job, err := repo.Get(context.Background(), "def456")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "wrong password")

	// The torrent must never stay paused after a failed extraction.
	assert.Equal(t, []string{"def456"}, torrents.resumed)
}

func TestProcessPathSkipsNonArchives(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Plain.Video")
	writeFiles(t, dir, "Plain.Video.mkv", "Plain.Video.nfo")

	torrents := &mockTorrentClient{
		torrents: []*qbittorrent.TorrentInfo{torrentFor(dir, "aaa111")},
		complete: map[string]bool{"aaa111": true},
	}
	ex := &mockExtractor{}
	eng, repo := newTestEngine(t, torrents, ex, nil)

	require.NoError(t, eng.ProcessPath(context.Background(), dir, testSettings(root)))

	job, err := repo.Get(context.Background(), "aaa111")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSkipped, job.Status)
	assert.Empty(t, ex.calls)
	assert.Empty(t, torrents.paused)
}

func TestProcessPathIdempotent(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Once.Only")
	writeFiles(t, dir, "Once.Only.rar")

	torrents := &mockTorrentClient{
		torrents: []*qbittorrent.TorrentInfo{torrentFor(dir, "bbb222")},
		complete: map[string]bool{"bbb222": true},
	}
	ex := &mockExtractor{}
	eng, repo := newTestEngine(t, torrents, ex, nil)

	st := testSettings(root)
	require.NoError(t, eng.ProcessPath(context.Background(), dir, st))
	require.NoError(t, eng.ProcessPath(context.Background(), dir, st))
	require.NoError(t, eng.ProcessPath(context.Background(), dir, st))

	assert.Len(t, ex.calls, 1, "re-discovery of a finished job must not extract again")

	jobs, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestPauseFailureFailsJobWithoutExtracting(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Cant.Pause")
	writeFiles(t, dir, "Cant.Pause.rar")

	torrents := &mockTorrentClient{
		torrents: []*qbittorrent.TorrentInfo{torrentFor(dir, "ccc333")},
		complete: map[string]bool{"ccc333": true},
		pauseErr: errors.New("api timeout"),
	}
	ex := &mockExtractor{}
	eng, repo := newTestEngine(t, torrents, ex, nil)

	require.NoError(t, eng.ProcessPath(context.Background(), dir, testSettings(root)))

	job, err := repo.Get(context.Background(), "ccc333")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "pause request failed")
	assert.Empty(t, ex.calls, "extraction must not run on unpaused files")
}

func TestMissingPartKeepsJobWaiting(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Gappy.Set")
	// part3 missing between part2 and part4.
	writeFiles(t, dir, "Gappy.Set.part1.rar", "Gappy.Set.part2.rar", "Gappy.Set.part4.rar")

	torrents := &mockTorrentClient{
		torrents: []*qbittorrent.TorrentInfo{torrentFor(dir, "ddd444")},
		complete: map[string]bool{"ddd444": true},
	}
	ex := &mockExtractor{}
	eng, repo := newTestEngine(t, torrents, ex, nil)

	require.NoError(t, eng.ProcessPath(context.Background(), dir, testSettings(root)))

	job, err := repo.Get(context.Background(), "ddd444")
	require.NoError(t, err)
	assert.Equal(t, store.StatusAwaitingCompletion, job.Status)
	assert.Empty(t, ex.calls)

	// The missing part arrives; the next advance completes the job.
	writeFiles(t, dir, "Gappy.Set.part3.rar")
	require.NoError(t, eng.Advance(context.Background(), job, testSettings(root)))

	job, err = repo.Get(context.Background(), "ddd444")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, job.Status)
	require.Len(t, ex.calls, 1)
}

func TestIncompleteTorrentKeepsJobWaiting(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Still.Downloading")
	writeFiles(t, dir, "Still.Downloading.rar")

	torrents := &mockTorrentClient{
		torrents: []*qbittorrent.TorrentInfo{torrentFor(dir, "eee555")},
		complete: map[string]bool{"eee555": false},
	}
	ex := &mockExtractor{}
	eng, repo := newTestEngine(t, torrents, ex, nil)

	require.NoError(t, eng.ProcessPath(context.Background(), dir, testSettings(root)))

	job, err := repo.Get(context.Background(), "eee555")
	require.NoError(t, err)
	assert.Equal(t, store.StatusAwaitingCompletion, job.Status)
	assert.Empty(t, ex.calls)
	assert.Empty(t, torrents.paused)
}

func TestTorrentGoneFailsAfterRepeatedPolls(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Vanished")
	writeFiles(t, dir, "Vanished.rar")

	torrents := &mockTorrentClient{
		torrents: []*qbittorrent.TorrentInfo{torrentFor(dir, "fff666")},
		complete: map[string]bool{"fff666": false},
	}
	ex := &mockExtractor{}
	eng, repo := newTestEngine(t, torrents, ex, nil)

	st := testSettings(root)
	st.MaxFailedPolls = 2
	require.NoError(t, eng.ProcessPath(context.Background(), dir, st))

	// The torrent disappears from the client.
	torrents.mu.Lock()
	torrents.torrents = nil
	torrents.mu.Unlock()

	job, err := repo.Get(context.Background(), "fff666")
	require.NoError(t, err)

	require.NoError(t, eng.Advance(context.Background(), job, st))
	assert.Equal(t, store.StatusAwaitingCompletion, job.Status)

	require.NoError(t, eng.Advance(context.Background(), job, st))

	job, err = repo.Get(context.Background(), "fff666")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "missing from client")
}

func TestConcurrentProcessPathExtractsOnce(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Busy.Release")
	writeFiles(t, dir, "Busy.Release.rar", "Busy.Release.r00")

	torrents := &mockTorrentClient{
		torrents: []*qbittorrent.TorrentInfo{torrentFor(dir, "busy01")},
		complete: map[string]bool{"busy01": true},
	}
	ex := newBlockingExtractor()
	eng, repo := newTestEngine(t, torrents, ex, nil)

	st := testSettings(root)

	done := make(chan error, 1)
	go func() {
		done <- eng.ProcessPath(context.Background(), dir, st)
	}()

	// Wait until the first worker is inside the extractor, job in
	// Extracting, then re-dispatch the same directory the way a watcher
	// event for the extractor's own output would.
	<-ex.started
	require.NoError(t, eng.ProcessPath(context.Background(), dir, st))
	assert.Equal(t, 1, ex.callCount(), "second dispatch must not run the extractor again")

	close(ex.release)
	require.NoError(t, <-done)

	job, err := repo.Get(context.Background(), "busy01")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, job.Status)
	assert.Equal(t, 1, ex.callCount())

	// A re-dispatch after the terminal outcome is also a no-op.
	require.NoError(t, eng.ProcessPath(context.Background(), dir, st))
	assert.Equal(t, 1, ex.callCount())
}

func TestRecoverOrphanedResetsInterruptedExtraction(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Interrupted.Mid")
	writeFiles(t, dir, "Interrupted.Mid.rar")

	torrents := &mockTorrentClient{
		torrents: []*qbittorrent.TorrentInfo{torrentFor(dir, "orph01")},
		complete: map[string]bool{"orph01": true},
	}
	ex := &mockExtractor{}
	eng, repo := newTestEngine(t, torrents, ex, nil)

	ctx := context.Background()

	// Seed a job the previous process left mid-extraction.
	created, err := repo.Create(ctx, &store.Job{
		Key:          "orph01",
		Name:         "Interrupted.Mid",
		Hash:         "orph01",
		SourcePath:   dir,
		Status:       store.StatusDiscovered,
		DiscoveredAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, created)
	for _, to := range []store.Status{store.StatusAwaitingCompletion, store.StatusPaused, store.StatusExtracting} {
		job, err := repo.Get(ctx, "orph01")
		require.NoError(t, err)
		ok, err := repo.CompareAndSetStatus(ctx, "orph01", job.Status, to)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Without recovery the job is never re-entered.
	job, err := repo.Get(ctx, "orph01")
	require.NoError(t, err)
	require.NoError(t, eng.Advance(ctx, job, testSettings(root)))
	assert.Empty(t, ex.calls)

	require.NoError(t, eng.RecoverOrphaned(ctx))

	job, err = repo.Get(ctx, "orph01")
	require.NoError(t, err)
	require.Equal(t, store.StatusPaused, job.Status)

	// The recovered job goes through pause and extraction again.
	require.NoError(t, eng.Advance(ctx, job, testSettings(root)))

	job, err = repo.Get(ctx, "orph01")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, job.Status)
	require.Len(t, ex.calls, 1)
	assert.Equal(t, []string{"orph01"}, torrents.paused)
	assert.Equal(t, []string{"orph01"}, torrents.resumed)
}

func TestGrowingArchiveKeepsJobWaiting(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Still.Growing")
	writeFiles(t, dir, "Still.Growing.rar")
	part := filepath.Join(dir, "Still.Growing.rar")

	torrents := &mockTorrentClient{
		torrents: []*qbittorrent.TorrentInfo{torrentFor(dir, "grow01")},
		complete: map[string]bool{"grow01": true},
	}
	ex := &mockExtractor{}
	eng, repo := newTestEngine(t, torrents, ex, nil)

	st := testSettings(root)
	st.StabilityInterval = 50 * time.Millisecond

	// Keep appending to the archive while the stability gate observes it.
	f, err := os.OpenFile(part, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-stop:
				return
			default:
				_, _ = f.Write([]byte("more data"))
				time.Sleep(2 * time.Millisecond)
			}
		}
	}()

	require.NoError(t, eng.ProcessPath(context.Background(), dir, st))

	close(stop)
	<-writerDone
	require.NoError(t, f.Close())

	job, err := repo.Get(context.Background(), "grow01")
	require.NoError(t, err)
	assert.Equal(t, store.StatusAwaitingCompletion, job.Status, "a still-growing archive must not be extracted")
	assert.Empty(t, ex.calls)
	assert.Empty(t, torrents.paused)

	// Once the file stops changing the next advance completes the job.
	require.NoError(t, eng.Advance(context.Background(), job, st))

	job, err = repo.Get(context.Background(), "grow01")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, job.Status)
	require.Len(t, ex.calls, 1)
}

func TestUnmappedPathKeyedByPath(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Manual.Drop")
	writeFiles(t, dir, "Manual.Drop.rar", "Manual.Drop.r00")

	torrents := &mockTorrentClient{}
	ex := &mockExtractor{}
	eng, repo := newTestEngine(t, torrents, ex, nil)

	require.NoError(t, eng.ProcessPath(context.Background(), dir, testSettings(root)))

	job, err := repo.Get(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, job.Status)
	assert.Empty(t, job.Hash)
	require.Len(t, ex.calls, 1)

	// Nothing to pause or resume without a mapped torrent.
	assert.Empty(t, torrents.paused)
	assert.Empty(t, torrents.resumed)
}

func TestDeleteArchivesAfterSuccess(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Cleanup")
	writeFiles(t, dir, "Cleanup.rar", "Cleanup.r00", "Cleanup.r01")

	torrents := &mockTorrentClient{
		torrents: []*qbittorrent.TorrentInfo{torrentFor(dir, "ggg777")},
		complete: map[string]bool{"ggg777": true},
	}
	ex := &mockExtractor{}
	eng, _ := newTestEngine(t, torrents, ex, nil)

	st := testSettings(root)
	st.DeleteArchives = true
	require.NoError(t, eng.ProcessPath(context.Background(), dir, st))

	for _, name := range []string{"Cleanup.rar", "Cleanup.r00", "Cleanup.r01"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), "%s should be deleted", name)
	}
}

func TestFilterExcludesTorrent(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Wrong.Category")
	writeFiles(t, dir, "Wrong.Category.rar")

	torrent := torrentFor(dir, "hhh888")
	torrent.Category = "music"

	torrents := &mockTorrentClient{
		torrents: []*qbittorrent.TorrentInfo{torrent},
		complete: map[string]bool{"hhh888": true},
	}
	ex := &mockExtractor{}
	eng, repo := newTestEngine(t, torrents, ex, nil)

	flt, err := filter.Compile(`Category == "tv"`)
	require.NoError(t, err)
	eng.SetFilter(flt)

	require.NoError(t, eng.ProcessPath(context.Background(), dir, testSettings(root)))

	jobs, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs, "filtered torrents must not create jobs")
	assert.Empty(t, ex.calls)
}

func TestHistoryReflectsOutcomes(t *testing.T) {
	root := t.TempDir()

	okDir := filepath.Join(root, "Good.One")
	writeFiles(t, okDir, "Good.One.rar")
	skipDir := filepath.Join(root, "Bare.One")
	writeFiles(t, skipDir, "Bare.One.mkv")

	torrents := &mockTorrentClient{
		torrents: []*qbittorrent.TorrentInfo{
			torrentFor(okDir, "ok1"),
			torrentFor(skipDir, "skip1"),
		},
		complete: map[string]bool{"ok1": true, "skip1": true},
	}
	eng, _ := newTestEngine(t, torrents, &mockExtractor{}, nil)

	st := testSettings(root)
	require.NoError(t, eng.ProcessPath(context.Background(), okDir, st))
	require.NoError(t, eng.ProcessPath(context.Background(), skipDir, st))

	records, err := eng.History(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	statuses := map[string]store.Status{}
	for _, r := range records {
		statuses[r.Key] = r.Status
	}
	assert.Equal(t, store.StatusSucceeded, statuses["ok1"])
	assert.Equal(t, store.StatusSkipped, statuses["skip1"])
}

func TestResumeAllPaused(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Interrupted")
	writeFiles(t, dir, "Interrupted.rar")

	torrents := &mockTorrentClient{
		torrents: []*qbittorrent.TorrentInfo{torrentFor(dir, "iii999")},
		complete: map[string]bool{"iii999": true},
	}
	eng, _ := newTestEngine(t, torrents, &mockExtractor{}, nil)

	eng.markPaused("iii999")
	eng.ResumeAllPaused(context.Background())

	assert.Equal(t, []string{"iii999"}, torrents.resumed)

	// Resumed hashes are forgotten; a second pass is a no-op.
	eng.ResumeAllPaused(context.Background())
	assert.Equal(t, []string{"iii999"}, torrents.resumed)
}

func TestResolveDestinationUniqueSuffix(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "Release.rar")
	require.NoError(t, os.WriteFile(primary, []byte("x"), 0o644))

	set := &archive.Set{BaseName: "Release", Primary: primary, Files: []string{primary}}
	job := &store.Job{Name: "Release"}
	st := &Settings{CreateSubfolder: true}

	first := resolveDestination(job, set, st)
	assert.Equal(t, filepath.Join(dir, "Release"), first)

	require.NoError(t, os.MkdirAll(first, 0o755))
	second := resolveDestination(job, set, st)
	assert.Equal(t, filepath.Join(dir, "Release (1)"), second)

	require.NoError(t, os.MkdirAll(second, 0o755))
	third := resolveDestination(job, set, st)
	assert.Equal(t, filepath.Join(dir, "Release (2)"), third)
}

func TestResolveDestinationFlat(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "Release.rar")

	set := &archive.Set{BaseName: "Release", Primary: primary, Files: []string{primary}}
	job := &store.Job{Name: "Release"}

	dest := resolveDestination(job, set, &Settings{CreateSubfolder: false})
	assert.Equal(t, dir, dest)
}

func TestResolveDestinationUnreachableParent(t *testing.T) {
	// Stat can never succeed under a missing parent; the first candidate
	// name is used as-is instead of probing forever.
	primary := filepath.Join("/no", "such", "parent", "Release.rar")
	set := &archive.Set{BaseName: "Release", Primary: primary, Files: []string{primary}}
	job := &store.Job{Name: "Release"}

	dest := resolveDestination(job, set, &Settings{CreateSubfolder: true})
	assert.Equal(t, filepath.Join("/no", "such", "parent", "Release"), dest)
}
