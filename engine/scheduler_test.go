package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up4200/unpackd/qbittorrent"
	"github.com/s0up4200/unpackd/store"
)

func newTestScheduler(t *testing.T, torrents *mockTorrentClient, st *Settings) (*Scheduler, store.JobRepository) {
	t.Helper()
	eng, repo := newTestEngine(t, torrents, &mockExtractor{}, nil)
	return NewScheduler(eng, torrents, st, zerolog.Nop()), repo
}

func TestManualScanIsIdempotent(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Dropped.Here")
	writeFiles(t, dir, "Dropped.Here.rar")

	sched, repo := newTestScheduler(t, &mockTorrentClient{}, testSettings(root))

	require.NoError(t, sched.ManualScan(context.Background()))
	require.NoError(t, sched.ManualScan(context.Background()))

	jobs, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, jobs, 1, "rescanning the same directory must not create duplicate jobs")
}

func TestManualScanProcessesOnlyNewDownloads(t *testing.T) {
	root := t.TempDir()
	oldDir := filepath.Join(root, "Already.Done")
	writeFiles(t, oldDir, "Already.Done.rar")

	torrents := &mockTorrentClient{}
	ex := &mockExtractor{}
	eng, repo := newTestEngine(t, torrents, ex, nil)
	sched := NewScheduler(eng, torrents, testSettings(root), zerolog.Nop())

	require.NoError(t, sched.ManualScan(context.Background()))
	require.Len(t, ex.calls, 1)

	newDir := filepath.Join(root, "Fresh.Arrival")
	writeFiles(t, newDir, "Fresh.Arrival.rar")

	require.NoError(t, sched.ManualScan(context.Background()))

	jobs, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	// Only the new download was extracted on the second pass.
	require.Len(t, ex.calls, 2)
	assert.Equal(t, filepath.Join(newDir, "Fresh.Arrival.rar"), ex.calls[1].primary)
}

func TestSchedulerProcessesCompletedTorrent(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Polled.Release")
	writeFiles(t, dir, "Polled.Release.rar", "Polled.Release.r00")

	torrents := &mockTorrentClient{
		torrents: []*qbittorrent.TorrentInfo{torrentFor(dir, "poll01")},
		complete: map[string]bool{"poll01": true},
	}

	st := testSettings(root)
	st.PollInterval = 50 * time.Millisecond
	sched, repo := newTestScheduler(t, torrents, st)

	require.NoError(t, sched.Start())
	defer sched.Stop(context.Background())

	assert.Eventually(t, func() bool {
		job, err := repo.Get(context.Background(), "poll01")
		return err == nil && job.Status == store.StatusSucceeded
	}, 5*time.Second, 25*time.Millisecond)
}

func TestSchedulerStartTwice(t *testing.T) {
	root := t.TempDir()
	sched, _ := newTestScheduler(t, &mockTorrentClient{}, testSettings(root))

	require.NoError(t, sched.Start())
	defer sched.Stop(context.Background())

	assert.ErrorIs(t, sched.Start(), ErrAlreadyRunning)
}

func TestSchedulerStopIsReentrant(t *testing.T) {
	root := t.TempDir()
	sched, _ := newTestScheduler(t, &mockTorrentClient{}, testSettings(root))

	require.NoError(t, sched.Start())
	sched.Stop(context.Background())
	sched.Stop(context.Background())

	// A stopped scheduler can be started again.
	require.NoError(t, sched.Start())
	sched.Stop(context.Background())
}

func TestCandidateFor(t *testing.T) {
	root := filepath.Join("/data", "complete")

	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "file directly under root",
			path: filepath.Join(root, "single.rar"),
			want: filepath.Join(root, "single.rar"),
		},
		{
			name: "file in a subdirectory",
			path: filepath.Join(root, "Release", "Release.rar"),
			want: filepath.Join(root, "Release"),
		},
		{
			name: "deeply nested file",
			path: filepath.Join(root, "Release", "Sample", "sample.mkv"),
			want: filepath.Join(root, "Release"),
		},
		{
			name: "root itself",
			path: root,
			want: "",
		},
		{
			name: "outside the root",
			path: filepath.Join("/data", "incomplete", "partial.rar"),
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, candidateFor(root, tt.path))
		})
	}
}

func TestUnderRoot(t *testing.T) {
	root := filepath.Join("/data", "complete")

	assert.True(t, underRoot(root, filepath.Join(root, "Release")))
	assert.True(t, underRoot(root, root))
	assert.False(t, underRoot(root, filepath.Join("/data", "incomplete", "Release")))
	assert.False(t, underRoot(root, "/data"))
}
