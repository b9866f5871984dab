package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/heimdex/heimdex-render/internal/composition"
	"github.com/heimdex/heimdex-render/internal/design"
)

const (
	manifestVersion  = "1"
	designFilename   = "design.json"
	manifestFilename = "manifest.yaml"
)

// Manifest describes a bundle and the metadata resolved when it was written.
type Manifest struct {
	Version   string               `yaml:"version"`
	JobID     string               `yaml:"job_id"`
	CreatedAt time.Time            `yaml:"created_at"`
	Design    string               `yaml:"design"`
	Settings  ManifestSettings     `yaml:"settings"`
	Metadata  composition.Metadata `yaml:"metadata"`
	Items     int                  `yaml:"items"`
	Groups    []ManifestGroup      `yaml:"groups,omitempty"`
}

// ManifestSettings mirrors composition.Settings.
type ManifestSettings struct {
	FPS    float64 `yaml:"fps"`
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
}

// ManifestGroup is a readable summary of one timeline group.
type ManifestGroup struct {
	Items      []string `yaml:"items"`
	Transition string   `yaml:"transition,omitempty"`
}

// LocalEngine bundles into a work directory on local disk and delegates
// encoding to an Executor.
type LocalEngine struct {
	workDir  string
	executor Executor
	logger   *slog.Logger
}

// NewLocalEngine creates an engine rooted at workDir.
func NewLocalEngine(workDir string, executor Executor, logger *slog.Logger) *LocalEngine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LocalEngine{workDir: workDir, executor: executor, logger: logger}
}

// Bundle writes the design and a YAML manifest to <workDir>/<jobID>.
func (e *LocalEngine) Bundle(ctx context.Context, jobID string, d *design.Design, s composition.Settings) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("bundle %s: design is nil", jobID)
	}

	dir := filepath.Join(e.workDir, jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bundle directory: %w", err)
	}

	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode design: %w", err)
	}
	designPath := filepath.Join(dir, designFilename)
	if err := os.WriteFile(designPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write design: %w", err)
	}

	plan := composition.NewPlan(d, s)
	manifest := Manifest{
		Version:   manifestVersion,
		JobID:     jobID,
		CreatedAt: time.Now().UTC(),
		Design:    designFilename,
		Settings:  ManifestSettings{FPS: s.FPS, Width: s.Width, Height: s.Height},
		Metadata:  plan.Metadata,
		Items:     len(plan.Items),
	}
	for _, g := range plan.Groups {
		mg := ManifestGroup{Items: g.Items}
		if g.Transition != nil {
			mg.Transition = g.Transition.Name()
		}
		manifest.Groups = append(manifest.Groups, mg)
	}

	manifestPath := filepath.Join(dir, manifestFilename)
	if err := WriteManifest(manifestPath, &manifest); err != nil {
		return nil, err
	}

	e.logger.Debug("bundle written",
		"job_id", jobID,
		"items", manifest.Items,
		"groups", len(manifest.Groups),
	)

	return &Bundle{
		JobID:        jobID,
		Dir:          dir,
		DesignPath:   designPath,
		ManifestPath: manifestPath,
		Settings:     s,
	}, nil
}

// SelectComposition reloads the bundled design and rebuilds its plan. The
// result must agree with the metadata recorded at bundle time.
func (e *LocalEngine) SelectComposition(ctx context.Context, b *Bundle) (*composition.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	manifest, err := ReadManifest(b.ManifestPath)
	if err != nil {
		return nil, err
	}
	if manifest.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported bundle manifest version %q", manifest.Version)
	}

	data, err := os.ReadFile(filepath.Join(b.Dir, manifest.Design))
	if err != nil {
		return nil, fmt.Errorf("failed to read bundled design: %w", err)
	}
	d, err := design.Parse(data)
	if err != nil {
		return nil, err
	}

	settings := composition.Settings{
		FPS:    manifest.Settings.FPS,
		Width:  manifest.Settings.Width,
		Height: manifest.Settings.Height,
	}
	plan := composition.NewPlan(d, settings)
	if plan.Metadata != manifest.Metadata {
		return nil, fmt.Errorf("composition metadata mismatch: bundle %+v, resolved %+v", manifest.Metadata, plan.Metadata)
	}

	for _, issue := range plan.Issues {
		e.logger.Warn("design item partially decoded", "job_id", b.JobID, "issue", issue)
	}
	return plan, nil
}

// RenderMedia delegates to the configured executor.
func (e *LocalEngine) RenderMedia(ctx context.Context, plan *composition.Plan, format Format, outputPath string, progress chan<- float64) error {
	if e.executor == nil {
		return fmt.Errorf("no render executor configured")
	}
	return e.executor.RenderMedia(ctx, plan, format, outputPath, progress)
}

// Cleanup removes a job's bundle directory.
func (e *LocalEngine) Cleanup(jobID string) error {
	if jobID == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(e.workDir, jobID))
}

// WriteManifest writes a manifest as YAML.
func WriteManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads a YAML manifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}
