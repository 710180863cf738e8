package jobs

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"quacwatch/internal/config"
	"quacwatch/internal/detect"
	"quacwatch/internal/fileutil"
	"quacwatch/internal/logging"
	"quacwatch/internal/metrics"
	"quacwatch/internal/services"
)

// ErrAlreadyQueued reports that a job directory for the source already exists.
var ErrAlreadyQueued = errors.New("job already queued")

// Materializer turns detected candidates into READY job directories.
type Materializer struct {
	jobsDir        string
	paramsFileName string
	templatePath   string
	reference      config.Reference
	logger         *slog.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
}

// NewMaterializer builds a materializer from configuration.
func NewMaterializer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Materializer {
	return &Materializer{
		jobsDir:        cfg.Paths.JobsDir,
		paramsFileName: cfg.Pipeline.ParamsFileName,
		templatePath:   cfg.Pipeline.Template,
		reference:      cfg.Reference,
		logger:         logging.NewComponentLogger(logger, "materializer"),
		metrics:        m,
		now:            time.Now,
	}
}

// Handoff adapts Materialize to the detector callback. An already queued job
// is not an error.
func (m *Materializer) Handoff(ctx context.Context, candidate detect.Candidate) error {
	_, err := m.Materialize(ctx, candidate)
	switch {
	case err == nil:
		m.metrics.JobMaterialized(candidate.Target.ID, "ok")
		return nil
	case errors.Is(err, ErrAlreadyQueued):
		m.metrics.JobMaterialized(candidate.Target.ID, "queued")
		return nil
	default:
		m.metrics.JobMaterialized(candidate.Target.ID, "error")
		return err
	}
}

// Materialize creates <jobs_dir>/<key>/ for candidate, copies the source in,
// renders the parameter file, writes job.json and finally the READY marker.
// On failure the partial directory is removed so a later attempt can retry.
func (m *Materializer) Materialize(ctx context.Context, candidate detect.Candidate) (layout Layout, err error) {
	if err := ctx.Err(); err != nil {
		return Layout{}, err
	}
	key := ContentKey(candidate.Path)
	layout = NewLayout(m.jobsDir, key, m.paramsFileName)
	logger := m.logger.With(
		logging.String(logging.FieldTarget, candidate.Target.ID),
		logging.String(logging.FieldJobKey, key),
	)

	if err := os.MkdirAll(m.jobsDir, 0o755); err != nil {
		return layout, services.Wrap(services.ErrMaterialize, "materialize", "create jobs dir", m.jobsDir, err)
	}
	if err := m.claimDir(layout, logger); err != nil {
		return layout, err
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(layout.Dir()); rmErr != nil {
				logger.Warn("partial job directory not removed",
					logging.String("job_dir", layout.Dir()),
					logging.Error(rmErr),
				)
			}
		}
	}()

	for _, dir := range []string{layout.InputDir(), layout.OutputDir(), layout.WorkDir(), layout.LogsDir()} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return layout, services.Wrap(services.ErrMaterialize, "materialize", "create layout", dir, err)
		}
	}

	started := m.now()
	inputPath := filepath.Join(layout.InputDir(), candidate.Name)
	if candidate.IsDir {
		err = fileutil.CopyTree(candidate.Path, inputPath)
	} else {
		err = fileutil.CopyFileVerified(candidate.Path, inputPath)
	}
	if err != nil {
		return layout, services.Wrap(services.ErrMaterialize, "materialize", "copy source", candidate.Path, err)
	}
	logger.Debug("source copied",
		logging.String("input_path", inputPath),
		logging.Int64("size_bytes", candidate.Size),
		logging.Duration("copy_duration", m.now().Sub(started)),
	)

	refs, err := m.renderParams(layout, logger)
	if err != nil {
		return layout, err
	}

	createdAt := m.now().UTC()
	meta := Metadata{
		Key:       key,
		CreatedAt: createdAt,
		Source: SourceInfo{
			Path:  candidate.Path,
			Name:  candidate.Name,
			Size:  candidate.Size,
			IsDir: candidate.IsDir,
		},
		Target: TargetInfo{
			ID:      candidate.Target.ID,
			Input:   candidate.Target.Input,
			Output:  candidate.Target.Output,
			Pattern: candidate.Target.Pattern,
		},
		LedgerPath: candidate.Target.LedgerPath(),
		ParamsPath: layout.ParamsPath(),
		InputDir:   layout.InputDir(),
		OutputDir:  layout.OutputDir(),
		References: refs,
	}
	if err := WriteMetadata(layout, meta); err != nil {
		return layout, services.Wrap(services.ErrMaterialize, "materialize", "write metadata", layout.MetadataPath(), err)
	}

	if err := WriteReady(layout,
		Field(KeyCreated, createdAt.Format(time.RFC3339)),
		Field(KeySource, candidate.Path),
	); err != nil {
		return layout, services.Wrap(services.ErrMaterialize, "materialize", "write ready marker", layout.Dir(), err)
	}

	logger.Info("job queued",
		logging.String("source", candidate.Name),
		logging.String("job_dir", layout.Dir()),
		logging.String(logging.FieldEventType, "job_queued"),
	)
	return layout, nil
}

// claimDir creates the job directory. A FINISHED job left by an earlier run
// is removed and recreated; any other existing job yields ErrAlreadyQueued.
func (m *Materializer) claimDir(layout Layout, logger *slog.Logger) error {
	err := os.Mkdir(layout.Dir(), 0o755)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return services.Wrap(services.ErrMaterialize, "materialize", "create job dir", layout.Dir(), err)
	}
	state, stateErr := layout.State()
	if stateErr != nil || state != StateFinished {
		logger.Debug("job directory already exists",
			logging.String("job_dir", layout.Dir()),
			logging.String("state", string(state)),
		)
		return ErrAlreadyQueued
	}
	if err := os.RemoveAll(layout.Dir()); err != nil {
		return services.Wrap(services.ErrMaterialize, "materialize", "recycle finished job", layout.Dir(), err)
	}
	logger.Info("recycling finished job for reprocessing",
		logging.String("job_dir", layout.Dir()),
		logging.String(logging.FieldEventType, "job_recycled"),
	)
	if err := os.Mkdir(layout.Dir(), 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrAlreadyQueued
		}
		return services.Wrap(services.ErrMaterialize, "materialize", "create job dir", layout.Dir(), err)
	}
	return nil
}

func (m *Materializer) renderParams(layout Layout, logger *slog.Logger) (References, error) {
	var refs References
	if m.templatePath == "" {
		return refs, services.Wrap(services.ErrConfiguration, "materialize", "render params", "pipeline.template is not set", nil)
	}
	tmpl, err := os.ReadFile(m.templatePath)
	if err != nil {
		return refs, services.Wrap(services.ErrMaterialize, "materialize", "read template", m.templatePath, err)
	}

	fasta, err := NewestFile(m.reference.FastaDir, "*.fasta")
	if err != nil {
		logger.Warn("fasta directory unreadable", logging.String("fasta_dir", m.reference.FastaDir), logging.Error(err))
	}
	spike, err := NewestFile(m.reference.SpikeDir, "*.csv")
	if err != nil {
		logger.Warn("spike directory unreadable", logging.String("spike_dir", m.reference.SpikeDir), logging.Error(err))
	}
	refs = References{Fasta: fasta, Spike: spike}

	rendered, unresolved := Render(string(tmpl), TemplateValues{
		Input:  layout.InputDir(),
		Output: layout.OutputDir(),
		Fasta:  fasta,
		Spike:  spike,
	})
	for _, token := range unresolved {
		logging.WarnWithContext(logger, "template token left unreplaced", "template_token_unresolved",
			logging.String("token", token),
			logging.String(logging.FieldErrorHint, "place a reference file in reference.fasta_dir or reference.spike_dir"),
			logging.String(logging.FieldImpact, "pipeline receives the literal token and may fail"),
		)
	}

	if err := fileutil.WriteFileAtomic(layout.ParamsPath(), []byte(rendered), 0o644); err != nil {
		return refs, services.Wrap(services.ErrMaterialize, "materialize", "write params", layout.ParamsPath(), err)
	}
	return refs, nil
}
