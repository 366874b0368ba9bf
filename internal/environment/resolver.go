// internal/environment/resolver.go
package environment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/poll"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// appConfigPageSize is how many app configs are scanned for a hash match.
const appConfigPageSize = 50

// Resolver finds or creates the compute template and app config a session is
// started from. Lookup-or-create is not transactional: two resolvers racing
// on the same hash may both create a record, and the duplicate is harmless.
type Resolver struct {
	api    domain.EnvironmentAPI
	poll   poll.Config
	logger *slog.Logger
	tracer trace.Tracer
}

// NewResolver creates a Resolver.
func NewResolver(api domain.EnvironmentAPI, cfg poll.Config, logger *slog.Logger) *Resolver {
	return &Resolver{
		api:    api,
		poll:   cfg.Defaults(),
		logger: logger.With("component", "environment-resolver"),
		tracer: otel.Tracer("release-orchestrator-environment"),
	}
}

// Resolve returns the environment for spec, or nil when spec carries a raw
// cluster config and no managed environment is needed.
func (r *Resolver) Resolve(ctx context.Context, projectID string, spec *domain.EnvironmentSpec) (*domain.Environment, error) {
	if spec == nil || spec.UsesClusterConfig() {
		return nil, nil
	}

	ctx, span := r.tracer.Start(ctx, "environment.Resolve", trace.WithAttributes(attribute.String("project.id", projectID)))
	defer span.End()

	templateID, err := r.findOrCreateComputeTemplate(ctx, projectID, spec.ComputeTemplate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve compute template")
		return nil, err
	}

	appConfigID, err := r.findOrCreateAppConfig(ctx, projectID, spec.AppConfig)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve app config")
		return nil, err
	}

	buildID, err := r.WaitForBuild(ctx, appConfigID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build did not succeed")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("compute_template.id", templateID),
		attribute.String("app_config.id", appConfigID),
		attribute.String("build.id", buildID),
	)
	return &domain.Environment{ComputeTemplateID: templateID, AppConfigID: appConfigID, BuildID: buildID}, nil
}

func (r *Resolver) findOrCreateComputeTemplate(ctx context.Context, projectID string, tpl map[string]any) (string, error) {
	if len(tpl) == 0 {
		return "", nil
	}
	hash, err := domain.Hash(tpl)
	if err != nil {
		return "", err
	}
	r.logger.Info("looking up compute template", "hash", hash)

	existing, err := r.api.ListComputeTemplates(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("failed to list compute templates: %w", err)
	}
	if id := findByName(existing, hash); id != "" {
		r.logger.Info("compute template already exists", "id", id)
		return id, nil
	}

	id, err := r.api.CreateComputeTemplate(ctx, projectID, hash, tpl)
	if err != nil {
		return "", fmt.Errorf("failed to create compute template %s: %w", hash, err)
	}
	r.logger.Info("compute template created", "id", id)
	return id, nil
}

func (r *Resolver) findOrCreateAppConfig(ctx context.Context, projectID string, app map[string]any) (string, error) {
	if len(app) == 0 {
		return "", nil
	}
	hash, err := domain.Hash(app)
	if err != nil {
		return "", err
	}
	r.logger.Info("looking up app config", "hash", hash)

	existing, err := r.api.ListAppConfigs(ctx, projectID, appConfigPageSize)
	if err != nil {
		return "", fmt.Errorf("failed to list app configs: %w", err)
	}
	if id := findByName(existing, hash); id != "" {
		r.logger.Info("app config already exists", "id", id)
		return id, nil
	}

	id, err := r.api.CreateAppConfig(ctx, projectID, hash, app)
	if err != nil {
		return "", fmt.Errorf("failed to create app config %s: %w", hash, err)
	}
	r.logger.Info("app config created", "id", id)
	return id, nil
}

func findByName(resources []domain.NamedResource, name string) string {
	for _, res := range resources {
		if res.Name == name {
			return res.ID
		}
	}
	return ""
}

// WaitForBuild returns the id of the succeeded build of an app config. Builds
// are inspected oldest first; a failed build is terminal. If none has settled
// yet the newest one is polled until it leaves pending/in_progress. Any other
// status is treated as a failure.
func (r *Resolver) WaitForBuild(ctx context.Context, appConfigID string) (string, error) {
	if appConfigID == "" {
		return "", nil
	}

	ctx, span := r.tracer.Start(ctx, "environment.WaitForBuild", trace.WithAttributes(attribute.String("app_config.id", appConfigID)))
	defer span.End()

	builds, err := r.api.ListBuilds(ctx, appConfigID)
	if err != nil {
		return "", fmt.Errorf("failed to list builds of app config %s: %w", appConfigID, err)
	}
	sort.SliceStable(builds, func(i, j int) bool { return builds[i].CreatedAt.Before(builds[j].CreatedAt) })

	var buildID string
	for _, b := range builds {
		buildID = b.ID
		switch b.Status {
		case domain.BuildFailed:
			return "", fmt.Errorf("build %s: %w", b.ID, domain.ErrBuildFailed)
		case domain.BuildSucceeded:
			return b.ID, nil
		}
	}
	if buildID == "" {
		return "", fmt.Errorf("app config %s: %w", appConfigID, domain.ErrNoBuild)
	}

	r.logger.Info("waiting for build to finish", "build_id", buildID)
	outcome := poll.Until(ctx, r.poll, r.logger, "build "+buildID, func(ctx context.Context) (bool, error) {
		b, err := r.api.GetBuild(ctx, buildID)
		if err != nil {
			return false, fmt.Errorf("failed to get build %s: %w", buildID, err)
		}
		switch b.Status {
		case domain.BuildSucceeded:
			return true, nil
		case domain.BuildFailed:
			return false, fmt.Errorf("build %s: %w", buildID, domain.ErrBuildFailed)
		case domain.BuildPending, domain.BuildInProgress:
			return false, nil
		default:
			return false, fmt.Errorf("build %s reported %q: %w", buildID, b.Status, domain.ErrUnknownBuildStatus)
		}
	})
	if err := outcome.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build wait "+outcome.State.String())
		return "", err
	}
	return buildID, nil
}
