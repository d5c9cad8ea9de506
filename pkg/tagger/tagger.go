// Package tagger labels newly opened issues with the classifier's
// prediction, subject to the installation's permissions and the
// repository's config.
package tagger

import (
	"context"
	"fmt"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/ticket-tagger/pkg/classifier"
	"github.com/Sternrassler/ticket-tagger/pkg/client"
	"github.com/Sternrassler/ticket-tagger/pkg/repoconfig"
	"github.com/Sternrassler/ticket-tagger/pkg/webhook"
)

// DefaultMinConfidence is the confidence below which predictions are
// discarded.
const DefaultMinConfidence = 0.5

var labelsApplied = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tagger_labels_applied_total",
		Help: "Labels written to issues by label key",
	},
	[]string{"label"},
)

// Outcome describes what IssueOpened did.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeNoPermission    Outcome = "no_permission"
	OutcomeDisabled        Outcome = "disabled"
	OutcomeLowConfidence   Outcome = "low_confidence"
	OutcomeLabelDisabled   Outcome = "label_disabled"
	OutcomeAlreadyLabelled Outcome = "already_labelled"
)

// Result is the outcome of handling one opened issue.
type Result struct {
	Outcome    Outcome
	Prediction classifier.Prediction
	Labels     []string
}

// Tagger reacts to webhook deliveries.
type Tagger struct {
	app           *client.AppClient
	classifier    classifier.Classifier
	minConfidence float64
	logger        zerolog.Logger
}

// Option configures a Tagger.
type Option func(*Tagger)

// WithMinConfidence overrides DefaultMinConfidence.
func WithMinConfidence(threshold float64) Option {
	return func(t *Tagger) {
		t.minConfidence = threshold
	}
}

// New creates a Tagger.
func New(app *client.AppClient, c classifier.Classifier, logger zerolog.Logger, opts ...Option) *Tagger {
	t := &Tagger{
		app:           app,
		classifier:    c,
		minConfidence: DefaultMinConfidence,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register wires the tagger into a webhook handler.
func (t *Tagger) Register(h *webhook.Handler) {
	h.On("issues.opened", func(ctx context.Context, d webhook.Delivery) error {
		event, err := webhook.Decode[webhook.IssuesEvent](d)
		if err != nil {
			return err
		}
		_, err = t.IssueOpened(ctx, event)
		return err
	})
	h.On("installation.created", func(ctx context.Context, d webhook.Delivery) error {
		event, err := webhook.Decode[webhook.InstallationEvent](d)
		if err != nil {
			return err
		}
		return t.InstallationCreated(ctx, event)
	})
}

// IssueOpened classifies a new issue and adds the predicted label. The
// installation token is revoked before returning unless the installation
// may not write issues, in which case nothing else is done.
func (t *Tagger) IssueOpened(ctx context.Context, event webhook.IssuesEvent) (Result, error) {
	logger := t.logger.With().
		Int64("installation_id", event.Installation.ID).
		Str("repository", event.Repository.FullName).
		Int("issue", event.Issue.Number).
		Logger()

	installation, err := t.app.CreateInstallationClient(ctx, event.Installation.ID)
	if err != nil {
		return Result{}, err
	}
	if !installation.CanWrite(client.ResourceIssues) {
		logger.Info().Msg("Installation cannot write issues, skipping")
		return Result{Outcome: OutcomeNoPermission}, nil
	}
	defer func() {
		if err := installation.Revoke(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("Failed to revoke installation token")
		}
	}()

	repo, err := installation.Repository(event.Repository.Owner.Login, event.Repository.Name)
	if err != nil {
		return Result{}, err
	}

	cfg := repoconfig.Defaults()
	if installation.CanRead(client.ResourceSingleFile) {
		file, err := repo.GetConfig(ctx)
		if err != nil {
			return Result{}, err
		}
		cfg = file.Config
	}
	if !cfg.Enabled {
		logger.Info().Msg("Tagging disabled by repository config")
		return Result{Outcome: OutcomeDisabled}, nil
	}

	prediction, err := t.classifier.Predict(ctx, classifier.Text(event.Issue.Title, event.Issue.Body))
	if err != nil {
		return Result{}, fmt.Errorf("classify issue: %w", err)
	}
	result := Result{Prediction: prediction}
	logger = logger.With().Str("label", prediction.Label).Float64("confidence", prediction.Confidence).Logger()

	if prediction.Confidence < t.minConfidence {
		logger.Info().Msg("Prediction below confidence threshold")
		result.Outcome = OutcomeLowConfidence
		return result, nil
	}

	label, ok := cfg.Label(prediction.Label)
	if !ok || !label.Enabled || label.Text == "" {
		logger.Info().Msg("Predicted label disabled by repository config")
		result.Outcome = OutcomeLabelDisabled
		return result, nil
	}

	existing := event.Issue.LabelNames()
	if slices.Contains(existing, label.Text) {
		result.Outcome = OutcomeAlreadyLabelled
		result.Labels = existing
		return result, nil
	}

	applied, err := repo.SetIssueLabels(ctx, event.Issue.Number, append(existing, label.Text))
	if err != nil {
		return Result{}, err
	}
	for _, l := range applied {
		result.Labels = append(result.Labels, l.Name)
	}
	result.Outcome = OutcomeApplied

	labelsApplied.WithLabelValues(prediction.Label).Inc()
	logger.Info().Str("text", label.Text).Msg("Label applied")
	return result, nil
}

// InstallationCreated logs a new installation.
func (t *Tagger) InstallationCreated(_ context.Context, event webhook.InstallationEvent) error {
	repositories := make([]string, 0, len(event.Repositories))
	for _, repo := range event.Repositories {
		repositories = append(repositories, repo.FullName)
	}
	t.logger.Info().
		Int64("installation_id", event.Installation.ID).
		Str("account", event.Installation.Account.Login).
		Strs("repositories", repositories).
		Msg("Installation created")
	return nil
}
