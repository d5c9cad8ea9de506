package client

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/Sternrassler/ticket-tagger/internal/testutil"
	"github.com/Sternrassler/ticket-tagger/pkg/cache"
	"github.com/Sternrassler/ticket-tagger/pkg/repoconfig"
)

const storedConfig = `# managed by the triage team
version: 3
enabled: true
labels:
  bug:
    enabled: true
    text: bug
  enhancement:
    enabled: true
    text: feature  # renamed
  question:
    enabled: false
    text: question
`

func newMockRepository(t *testing.T, mock *testutil.MockPlatform) *RepositoryClient {
	t.Helper()
	mock.AddRepository("octo", "hello")
	repo, err := newMockInstallation(t, mock, cache.NewMemoryStore(time.Hour)).Repository("octo", "hello")
	if err != nil {
		t.Fatalf("Repository: %v", err)
	}
	return repo
}

func TestRepositoryClient_GetRepository(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	repo := newMockRepository(t, mock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		meta, err := repo.GetRepository(ctx)
		if err != nil {
			t.Fatalf("GetRepository: %v", err)
		}
		if meta.FullName != "octo/hello" || meta.DefaultBranch != "main" {
			t.Errorf("repository = %+v", meta)
		}
	}
	if mock.ConditionalCalls(testutil.RouteRepository) != 1 {
		t.Errorf("conditional calls = %d, want 1", mock.ConditionalCalls(testutil.RouteRepository))
	}

	missing, err := repo.installation.Repository("octo", "missing")
	if err != nil {
		t.Fatalf("Repository: %v", err)
	}
	if _, err := missing.GetRepository(ctx); !IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestRepositoryClient_GetConfig_Missing(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	repo := newMockRepository(t, mock)

	file, err := repo.GetConfig(context.Background())
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if file.Exists || file.SHA != "" || file.Raw != nil {
		t.Errorf("missing config = %+v", file)
	}
	if !reflect.DeepEqual(file.Config, repoconfig.Defaults()) {
		t.Errorf("config = %+v, want defaults", file.Config)
	}
}

func TestRepositoryClient_GetConfig_Revalidates(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	repo := newMockRepository(t, mock)
	sha := mock.SetFile("octo", "hello", repoconfig.Path, []byte(storedConfig))
	ctx := context.Background()

	first, err := repo.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	second, err := repo.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig (revalidated): %v", err)
	}

	if !first.Exists || first.SHA != sha {
		t.Errorf("config file = exists %v sha %q, want sha %q", first.Exists, first.SHA, sha)
	}
	if string(first.Raw) != storedConfig || string(second.Raw) != storedConfig {
		t.Error("raw config should round-trip byte for byte")
	}
	if first.Config.Labels[repoconfig.LabelEnhancement].Text != "feature" {
		t.Errorf("enhancement label = %+v", first.Config.Labels[repoconfig.LabelEnhancement])
	}
	if mock.ConditionalCalls(testutil.RouteConfigGet) != 1 {
		t.Errorf("conditional calls = %d, want 1", mock.ConditionalCalls(testutil.RouteConfigGet))
	}
}

func TestRepositoryClient_CreateConfig(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	repo := newMockRepository(t, mock)
	ctx := context.Background()

	created, err := repo.CreateConfig(ctx, repoconfig.Defaults())
	if err != nil {
		t.Fatalf("CreateConfig: %v", err)
	}
	content, sha, ok := mock.File("octo", "hello", repoconfig.Path)
	if !ok {
		t.Fatal("config file was not written")
	}
	if created.SHA != sha || string(created.Raw) != string(content) {
		t.Errorf("created = sha %q, stored sha %q", created.SHA, sha)
	}

	_, err = repo.CreateConfig(ctx, repoconfig.Defaults())
	if !IsConfigConflict(err) {
		t.Errorf("second create: err = %v, want config conflict", err)
	}
}

func TestRepositoryClient_PutConfig_StaleSHA(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	repo := newMockRepository(t, mock)
	ctx := context.Background()

	mock.SetFile("octo", "hello", repoconfig.Path, []byte(storedConfig))
	file, err := repo.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}

	// Someone else edits the file after our read.
	concurrent := []byte(storedConfig + "# edited elsewhere\n")
	originSHA := mock.SetFile("octo", "hello", repoconfig.Path, concurrent)

	_, err = repo.PutConfig(ctx, []byte("version: 3\n"), file.SHA, "overwrite")
	if !errors.Is(err, ErrConfigConflict) {
		t.Fatalf("err = %v, want ErrConfigConflict", err)
	}
	if !IsConflict(err) {
		t.Error("conflict should keep the origin's 409 in the chain")
	}

	content, sha, _ := mock.File("octo", "hello", repoconfig.Path)
	if sha != originSHA || string(content) != string(concurrent) {
		t.Error("stale write modified the stored config")
	}
}

func TestRepositoryClient_MergeConfig(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	repo := newMockRepository(t, mock)
	ctx := context.Background()

	mock.SetFile("octo", "hello", repoconfig.Path, []byte(storedConfig))
	file, err := repo.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}

	submitted, err := repoconfig.Parse(file.Raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	submitted.Labels[repoconfig.LabelQuestion] = repoconfig.Label{Enabled: true, Text: "question"}

	merged, err := repo.MergeConfig(ctx, file.Config, submitted)
	if err != nil {
		t.Fatalf("MergeConfig: %v", err)
	}
	if !merged.Config.Labels[repoconfig.LabelQuestion].Enabled {
		t.Error("merged config should enable question")
	}

	content, sha, _ := mock.File("octo", "hello", repoconfig.Path)
	if sha != merged.SHA {
		t.Errorf("stored sha = %q, returned %q", sha, merged.SHA)
	}
	stored, err := repoconfig.Parse(content)
	if err != nil {
		t.Fatalf("Parse stored: %v", err)
	}
	if !stored.Labels[repoconfig.LabelQuestion].Enabled {
		t.Error("stored config should enable question")
	}
	if stored.Labels[repoconfig.LabelEnhancement].Text != "feature" {
		t.Error("merge dropped an untouched field")
	}
}

func TestRepositoryClient_SetIssueLabels(t *testing.T) {
	mock := testutil.NewMockPlatform()
	defer mock.Close()
	repo := newMockRepository(t, mock)

	labels, err := repo.SetIssueLabels(context.Background(), 7, []string{"bug"})
	if err != nil {
		t.Fatalf("SetIssueLabels: %v", err)
	}
	if len(labels) != 1 || labels[0].Name != "bug" {
		t.Errorf("labels = %+v", labels)
	}
	if got := mock.IssueLabels("octo", "hello", 7); !reflect.DeepEqual(got, []string{"bug"}) {
		t.Errorf("stored labels = %v", got)
	}
}

func TestDecodeContent(t *testing.T) {
	tests := []struct {
		name     string
		envelope contentsEnvelope
		want     string
		wantErr  bool
	}{
		{name: "wrapped base64", envelope: contentsEnvelope{Encoding: "base64", Content: "dmVy\nc2lv\nbjog\nMw==\n"}, want: "version: 3"},
		{name: "unknown encoding", envelope: contentsEnvelope{Encoding: "none"}, wantErr: true},
		{name: "invalid base64", envelope: contentsEnvelope{Encoding: "base64", Content: "!!"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeContent(tt.envelope)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && string(got) != tt.want {
				t.Errorf("decodeContent() = %q, want %q", got, tt.want)
			}
		})
	}
}
