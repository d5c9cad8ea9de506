package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/ticket-tagger/pkg/repoconfig"
)

// RepositoryClient acts on one repository with its installation's token.
type RepositoryClient struct {
	installation *InstallationClient
	owner        string
	repo         string
}

// Repository is the subset of repository metadata the tagger uses.
type Repository struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	FullName      string  `json:"full_name"`
	Private       bool    `json:"private"`
	DefaultBranch string  `json:"default_branch"`
	Owner         Account `json:"owner"`
}

// Label is an issue label.
type Label struct {
	ID    int64  `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// ConfigFile is the repository config together with its stored form.
type ConfigFile struct {
	// Config is the parsed config, or the defaults when Exists is false.
	Config *repoconfig.Config

	// Raw is the stored document. Empty when Exists is false.
	Raw []byte

	// SHA is the blob sha that writes must quote. Empty when Exists is
	// false.
	SHA string

	// Exists is false when the repository has no config file.
	Exists bool
}

// Owner returns the repository owner.
func (c *RepositoryClient) Owner() string {
	return c.owner
}

// Name returns the repository name.
func (c *RepositoryClient) Name() string {
	return c.repo
}

// FullName returns "owner/repo".
func (c *RepositoryClient) FullName() string {
	return c.owner + "/" + c.repo
}

func (c *RepositoryClient) path(suffix string) string {
	return "/repos/" + url.PathEscape(c.owner) + "/" + url.PathEscape(c.repo) + suffix
}

// GetRepository reads the repository metadata. A 404 is returned as an
// error.
func (c *RepositoryClient) GetRepository(ctx context.Context) (*Repository, error) {
	ctx, auth, err := c.installation.authorize(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := c.installation.transport.get(ctx, c.path(""), auth)
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", c.FullName(), err)
	}
	var repo Repository
	if err := json.Unmarshal(payload, &repo); err != nil {
		return nil, fmt.Errorf("decode repository: %w", err)
	}
	return &repo, nil
}

// SetIssueLabels replaces the labels of issue number and returns the
// resulting set.
func (c *RepositoryClient) SetIssueLabels(ctx context.Context, number int, labels []string) ([]Label, error) {
	ctx, auth, err := c.installation.authorize(ctx)
	if err != nil {
		return nil, err
	}
	if labels == nil {
		labels = []string{}
	}
	body := struct {
		Labels []string `json:"labels"`
	}{Labels: labels}

	data, _, err := c.installation.transport.send(ctx, "PUT", c.path("/issues/"+strconv.Itoa(number)+"/labels"), auth, body)
	if err != nil {
		return nil, fmt.Errorf("set labels on %s#%d: %w", c.FullName(), number, err)
	}
	var result []Label
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}
	return result, nil
}

// contentsEnvelope is the contents API representation of a file.
type contentsEnvelope struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
	SHA      string `json:"sha"`
}

// GetConfig reads the repository config. A missing file yields the defaults
// with Exists false.
func (c *RepositoryClient) GetConfig(ctx context.Context) (*ConfigFile, error) {
	ctx, auth, err := c.installation.authorize(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := c.installation.transport.get(ctx, c.path("/contents/"+repoconfig.Path), auth)
	if err != nil {
		if IsNotFound(err) {
			return &ConfigFile{Config: repoconfig.Defaults()}, nil
		}
		return nil, fmt.Errorf("get config of %s: %w", c.FullName(), err)
	}

	var envelope contentsEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode contents envelope: %w", err)
	}
	if envelope.Type != "" && envelope.Type != "file" {
		return nil, fmt.Errorf("%s in %s is a %s, not a file", repoconfig.Path, c.FullName(), envelope.Type)
	}
	raw, err := decodeContent(envelope)
	if err != nil {
		return nil, err
	}

	cfg, err := repoconfig.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &ConfigFile{Config: cfg, Raw: raw, SHA: envelope.SHA, Exists: true}, nil
}

func decodeContent(envelope contentsEnvelope) ([]byte, error) {
	if envelope.Encoding != "" && envelope.Encoding != "base64" {
		return nil, fmt.Errorf("unsupported content encoding %q", envelope.Encoding)
	}
	// The API wraps base64 content at 60 columns.
	compact := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, envelope.Content)
	raw, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("decode config content: %w", err)
	}
	return raw, nil
}

// CreateConfig writes cfg as a new config file. It fails with a conflict if
// the file already exists.
func (c *RepositoryClient) CreateConfig(ctx context.Context, cfg *repoconfig.Config) (*ConfigFile, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	raw, err := repoconfig.Render(cfg)
	if err != nil {
		return nil, err
	}
	sha, err := c.PutConfig(ctx, raw, "", "Create ticket-tagger config")
	if err != nil {
		return nil, err
	}
	return &ConfigFile{Config: cfg, Raw: raw, SHA: sha, Exists: true}, nil
}

// PutConfig writes raw as the config file and returns the new blob sha. sha
// must be the sha last read (empty to create). A stale sha yields
// ErrConfigConflict and leaves the stored file untouched.
func (c *RepositoryClient) PutConfig(ctx context.Context, raw []byte, sha, message string) (string, error) {
	ctx, auth, err := c.installation.authorize(ctx)
	if err != nil {
		return "", err
	}

	body := struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha,omitempty"`
	}{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(raw),
		SHA:     sha,
	}

	data, _, err := c.installation.transport.send(ctx, "PUT", c.path("/contents/"+repoconfig.Path), auth, body)
	if err != nil {
		// The API answers 422 when a create races an existing file.
		if IsConflict(err) || (sha == "" && hasStatus(err, 422)) {
			return "", fmt.Errorf("put config of %s: %w: %w", c.FullName(), ErrConfigConflict, err)
		}
		return "", fmt.Errorf("put config of %s: %w", c.FullName(), err)
	}

	var result struct {
		Content struct {
			SHA string `json:"sha"`
		} `json:"content"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decode contents response: %w", err)
	}
	return result.Content.SHA, nil
}

// MergeConfig applies the edit lastKnown → submitted onto the config
// currently stored at the origin and writes the result with the origin's
// sha. A conflict means the origin changed again between the read and the
// write; the caller should reload and resubmit.
func (c *RepositoryClient) MergeConfig(ctx context.Context, lastKnown, submitted *repoconfig.Config) (*ConfigFile, error) {
	current, err := c.GetConfig(ctx)
	if err != nil {
		return nil, err
	}

	merged, cfg, err := repoconfig.Merge(lastKnown, submitted, current.Raw)
	if err != nil {
		return nil, fmt.Errorf("merge config: %w", err)
	}

	sha, err := c.PutConfig(ctx, merged, current.SHA, "Update ticket-tagger config")
	if err != nil {
		return nil, err
	}
	return &ConfigFile{Config: cfg, Raw: merged, SHA: sha, Exists: true}, nil
}

// IsConfigConflict reports whether err is a stale-sha config write.
func IsConfigConflict(err error) bool {
	return errors.Is(err, ErrConfigConflict)
}
