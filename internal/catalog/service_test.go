package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flowkit/flowkit-editor/internal/db"
	"github.com/flowkit/flowkit-editor/internal/timeline"
)

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	repo := NewRepository(database.Conn())
	return database, repo
}

func uploads(files map[string]string) []Upload {
	var out []Upload
	for _, name := range []string{"a.mp4", "b.mov", "notes.txt", "c.mkv"} {
		if content, ok := files[name]; ok {
			out = append(out, Upload{Filename: name, Body: strings.NewReader(content)})
		}
	}
	return out
}

func TestService_SaveUploads(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	mediaDir := filepath.Join(t.TempDir(), "media")
	svc := NewService(repo, mediaDir, nil)
	ctx := context.Background()

	saved, err := svc.SaveUploads(ctx, uploads(map[string]string{
		"a.mp4":     "first video",
		"b.mov":     "second video",
		"notes.txt": "not a video",
	}))
	if err != nil {
		t.Fatalf("SaveUploads() error = %v", err)
	}

	if len(saved) != 3 {
		t.Fatalf("saved %d files, want 3", len(saved))
	}

	data, err := os.ReadFile(filepath.Join(mediaDir, "a.mp4"))
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if string(data) != "first video" {
		t.Errorf("saved content = %q, want %q", data, "first video")
	}

	videos, err := svc.ListVideos(ctx)
	if err != nil {
		t.Fatalf("ListVideos() error = %v", err)
	}
	if len(videos) != 2 {
		t.Fatalf("catalog has %d videos, want 2 (text file excluded)", len(videos))
	}
	if videos[0].Filename != "a.mp4" || videos[1].Filename != "b.mov" {
		t.Errorf("videos = %s, %s; want a.mp4, b.mov", videos[0].Filename, videos[1].Filename)
	}
	if videos[0].Size != int64(len("first video")) {
		t.Errorf("size = %d, want %d", videos[0].Size, len("first video"))
	}
	if videos[0].Fingerprint == "" || videos[0].Fingerprint == videos[1].Fingerprint {
		t.Errorf("fingerprints not distinct: %q, %q", videos[0].Fingerprint, videos[1].Fingerprint)
	}
}

func TestService_SaveUploads_ReplacesPreviousSet(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	mediaDir := filepath.Join(t.TempDir(), "media")
	svc := NewService(repo, mediaDir, nil)
	ctx := context.Background()

	if _, err := svc.SaveUploads(ctx, uploads(map[string]string{"a.mp4": "a", "b.mov": "b"})); err != nil {
		t.Fatalf("first SaveUploads() error = %v", err)
	}
	if _, err := svc.SaveUploads(ctx, uploads(map[string]string{"c.mkv": "c"})); err != nil {
		t.Fatalf("second SaveUploads() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(mediaDir, "a.mp4")); !os.IsNotExist(err) {
		t.Errorf("a.mp4 should be removed, stat err = %v", err)
	}

	videos, _ := svc.ListVideos(ctx)
	if len(videos) != 1 || videos[0].Filename != "c.mkv" {
		t.Errorf("videos after replace = %+v, want only c.mkv", videos)
	}

	v, err := svc.GetVideo(ctx, "a.mp4")
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if v != nil {
		t.Error("GetVideo(a.mp4) should return nil after replace")
	}
}

func TestService_SaveUploads_StripsDirectories(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	mediaDir := filepath.Join(t.TempDir(), "media")
	svc := NewService(repo, mediaDir, nil)

	saved, err := svc.SaveUploads(context.Background(), []Upload{
		{Filename: "../../etc/clip.mp4", Body: strings.NewReader("x")},
	})
	if err != nil {
		t.Fatalf("SaveUploads() error = %v", err)
	}
	if saved[0] != "clip.mp4" {
		t.Errorf("saved name = %s, want clip.mp4", saved[0])
	}
	if _, err := os.Stat(filepath.Join(mediaDir, "clip.mp4")); err != nil {
		t.Errorf("clip.mp4 not in media dir: %v", err)
	}
}

func TestService_SaveUploads_Errors(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, filepath.Join(t.TempDir(), "media"), nil)
	ctx := context.Background()

	if _, err := svc.SaveUploads(ctx, nil); !errors.Is(err, ErrNoFiles) {
		t.Errorf("SaveUploads(nil) error = %v, want ErrNoFiles", err)
	}

	_, err := svc.SaveUploads(ctx, []Upload{{Filename: "..", Body: strings.NewReader("")}})
	if !errors.Is(err, timeline.ErrInvalidVideoID) {
		t.Errorf("SaveUploads(..) error = %v, want ErrInvalidVideoID", err)
	}
}

func TestService_SetDuration(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, filepath.Join(t.TempDir(), "media"), nil)
	ctx := context.Background()

	svc.SaveUploads(ctx, uploads(map[string]string{"a.mp4": "a"}))
	v, _ := svc.GetVideo(ctx, "a.mp4")
	if v == nil {
		t.Fatal("GetVideo(a.mp4) = nil")
	}

	if err := svc.SetDuration(ctx, v.ID, 12.5); err != nil {
		t.Fatalf("SetDuration() error = %v", err)
	}
	v, _ = svc.GetVideo(ctx, "a.mp4")
	if v.DurationS != 12.5 {
		t.Errorf("DurationS = %v, want 12.5", v.DurationS)
	}

	if d, err := svc.VideoDuration(ctx, "a.mp4"); err != nil || d != 12.5 {
		t.Errorf("VideoDuration(a.mp4) = %v, %v", d, err)
	}
	if d, err := svc.VideoDuration(ctx, "missing.mp4"); err != nil || d != 0 {
		t.Errorf("VideoDuration(missing.mp4) = %v, %v, want 0", d, err)
	}
}

func TestService_RenderJobLifecycle(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, t.TempDir(), nil)
	ctx := context.Background()

	seq := []timeline.SwitchPoint{{Video: "a.mp4", Start: 0}, {Video: "b.mp4", Start: 5}}
	job, err := svc.StartJob(ctx, JobTypeRender, "sess-1", seq)
	if err != nil {
		t.Fatalf("StartJob() error = %v", err)
	}
	if job.Status != JobStatusRunning {
		t.Errorf("job.Status = %s, want running", job.Status)
	}

	var stored []timeline.SwitchPoint
	got, _ := svc.GetJob(ctx, job.ID)
	if err := json.Unmarshal([]byte(got.Sequence), &stored); err != nil {
		t.Fatalf("stored sequence not JSON: %v", err)
	}
	if len(stored) != 2 || stored[1].Video != "b.mp4" || stored[1].Start != 5 {
		t.Errorf("stored sequence = %+v", stored)
	}
	if pts := got.SequencePoints(); len(pts) != 2 || pts[0].Video != "a.mp4" {
		t.Errorf("SequencePoints() = %+v", pts)
	}

	if err := svc.CompleteJob(ctx, job.ID, "/result/combined_video.mp4"); err != nil {
		t.Fatalf("CompleteJob() error = %v", err)
	}

	got, _ = svc.GetJob(ctx, job.ID)
	if got.Status != JobStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.Result != "/result/combined_video.mp4" {
		t.Errorf("result = %s", got.Result)
	}
}

func TestService_FailJob(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, t.TempDir(), nil)
	ctx := context.Background()

	job, _ := svc.StartJob(ctx, JobTypeAnalyze, "", nil)
	if err := svc.FailJob(ctx, job.ID, errors.New("backend unreachable")); err != nil {
		t.Fatalf("FailJob() error = %v", err)
	}

	got, _ := svc.GetJob(ctx, job.ID)
	if got.Status != JobStatusFailed || got.Error != "backend unreachable" {
		t.Errorf("job = %+v, want failed with backend unreachable", got)
	}
	if got.Sequence != "" || got.SessionID != "" {
		t.Errorf("analyze job carries sequence %q / session %q", got.Sequence, got.SessionID)
	}
}

func TestService_SessionJobs(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, t.TempDir(), nil)
	ctx := context.Background()

	first, _ := svc.StartJob(ctx, JobTypeRender, "sess-1", nil)
	svc.StartJob(ctx, JobTypeRender, "sess-2", nil)
	second, _ := svc.StartJob(ctx, JobTypeRender, "sess-1", nil)

	jobs, err := svc.SessionJobs(ctx, "sess-1")
	if err != nil {
		t.Fatalf("SessionJobs() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	if jobs[0].ID != first.ID || jobs[1].ID != second.ID {
		t.Errorf("jobs out of creation order")
	}

	all, _ := svc.ListJobs(ctx, 0)
	if len(all) != 3 {
		t.Errorf("ListJobs() = %d, want 3", len(all))
	}
}

func TestRepository_Config(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	ctx := context.Background()

	v, err := repo.GetConfig(ctx, "auth_token")
	if err != nil || v != "" {
		t.Fatalf("GetConfig(missing) = %q, %v; want empty", v, err)
	}

	repo.SetConfig(ctx, "auth_token", "one")
	repo.SetConfig(ctx, "auth_token", "two")

	v, _ = repo.GetConfig(ctx, "auth_token")
	if v != "two" {
		t.Errorf("GetConfig() = %q, want two", v)
	}
}

func TestIsVideoFile(t *testing.T) {
	tests := []struct {
		filename string
		want     bool
	}{
		{"video.mp4", true},
		{"video.MP4", true},
		{"video.mov", true},
		{"video.mkv", true},
		{"video.avi", true},
		{"document.pdf", false},
		{"image.jpg", false},
		{"noextension", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := IsVideoFile(tt.filename); got != tt.want {
				t.Errorf("IsVideoFile(%s) = %v, want %v", tt.filename, got, tt.want)
			}
		})
	}
}
