package repoconfig

import (
	"strings"
	"testing"
)

func TestMerge_ReplaysSubmittedChangesOntoOrigin(t *testing.T) {
	lastKnown := Defaults()

	submitted := Defaults()
	submitted.Labels[LabelQuestion] = Label{Enabled: false, Text: "question"}

	// The origin changed enhancement.text since the editor loaded it.
	merged, cfg, err := Merge(lastKnown, submitted, []byte(commentedOrigin))
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if question, _ := cfg.Label(LabelQuestion); question.Enabled {
		t.Error("submitted change lost")
	}
	if enhancement, _ := cfg.Label(LabelEnhancement); enhancement.Text != "feature" {
		t.Errorf("origin change lost: enhancement = %+v", enhancement)
	}
	if !strings.Contains(string(merged), "# Managed by the platform team.") {
		t.Errorf("origin comment lost:\n%s", merged)
	}
	if !strings.Contains(string(merged), "reviewers:") {
		t.Errorf("unrelated origin key lost:\n%s", merged)
	}
}

func TestMerge_SubmitterWinsOnSameKey(t *testing.T) {
	lastKnown := Defaults()
	submitted := Defaults()
	submitted.Labels[LabelEnhancement] = Label{Enabled: true, Text: "enhancement-request"}

	_, cfg, err := Merge(lastKnown, submitted, []byte(commentedOrigin))
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if enhancement, _ := cfg.Label(LabelEnhancement); enhancement.Text != "enhancement-request" {
		t.Errorf("enhancement = %+v", enhancement)
	}
}

func TestMerge_EmptyOrigin(t *testing.T) {
	submitted := Defaults()
	submitted.Enabled = false

	merged, cfg, err := Merge(nil, submitted, nil)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if cfg.Enabled {
		t.Error("Enabled should be false")
	}
	if !strings.Contains(string(merged), "labels:") {
		t.Errorf("empty origin should start from rendered defaults:\n%s", merged)
	}
}

func TestMerge_CommentOnlyOrigin(t *testing.T) {
	disabled := Defaults()
	disabled.Enabled = false

	tests := []struct {
		name      string
		submitted *Config
		origin    string
		want      []string
	}{
		{
			name:   "no changes",
			origin: "# only a comment\n",
			want:   []string{"# only a comment"},
		},
		{
			name:      "with changes",
			submitted: disabled,
			origin:    "# managed by hand\n# second line\n",
			want:      []string{"# managed by hand", "# second line", "enabled: false"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, _, err := Merge(nil, tt.submitted, []byte(tt.origin))
			if err != nil {
				t.Fatalf("Merge() error = %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(string(merged), want) {
					t.Errorf("merged document lost %q:\n%s", want, merged)
				}
			}
		})
	}
}

func TestMerge_NoChangesKeepsOrigin(t *testing.T) {
	merged, _, err := Merge(Defaults(), Defaults(), []byte(commentedOrigin))
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !strings.Contains(string(merged), "bug: {enabled: true, text: bug}") {
		t.Errorf("untouched flow mapping reformatted:\n%s", merged)
	}
}

func TestMerge_InvalidResult(t *testing.T) {
	submitted := Defaults()
	submitted.Labels[LabelBug] = Label{Enabled: true, Text: ""}

	if _, _, err := Merge(Defaults(), submitted, nil); err == nil {
		t.Error("Merge() should reject a result that fails validation")
	}
}
