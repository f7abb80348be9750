package cli

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/adapter"
	"github.com/m-mizutani/veoclip/pkg/asset"
	"github.com/m-mizutani/veoclip/pkg/policy"
	"github.com/m-mizutani/veoclip/pkg/repository"
	"github.com/m-mizutani/veoclip/pkg/usecase/generation"
	"github.com/m-mizutani/veoclip/pkg/usecase/history"
	"github.com/m-mizutani/veoclip/pkg/usecase/studio"
	"github.com/m-mizutani/veoclip/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const (
	historyBackendFile   = "file"
	historyBackendGCS    = "gcs"
	historyBackendMemory = "memory"
)

// config holds configuration values
type config struct {
	logLevel string

	// History
	historyBackend string
	historyDir     string
	historyBucket  string
	historyPrefix  string

	// Job ledger
	firestoreProject  string
	firestoreDatabase string

	// Veo
	apiKey         string
	vertexProject  string
	vertexLocation string
	videoModel     string
	pollInterval   time.Duration
	ffmpegPath     string
	policyDir      string
}

// globalFlags returns flags for logging and local state
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("VEOCLIP_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "history-backend",
			Usage:       "Where the history is stored (file, gcs, memory)",
			Value:       historyBackendFile,
			Sources:     cli.EnvVars("VEOCLIP_HISTORY_BACKEND"),
			Destination: &cfg.historyBackend,
		},
		&cli.StringFlag{
			Name:        "history-dir",
			Usage:       "Directory of the file history backend (default: user config dir)",
			Sources:     cli.EnvVars("VEOCLIP_HISTORY_DIR"),
			Destination: &cfg.historyDir,
		},
		&cli.StringFlag{
			Name:        "history-bucket",
			Usage:       "Cloud Storage bucket of the gcs history backend",
			Sources:     cli.EnvVars("VEOCLIP_HISTORY_BUCKET"),
			Destination: &cfg.historyBucket,
		},
		&cli.StringFlag{
			Name:        "history-prefix",
			Usage:       "Object prefix of the gcs history backend",
			Sources:     cli.EnvVars("VEOCLIP_HISTORY_PREFIX"),
			Destination: &cfg.historyPrefix,
		},
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID of the job ledger (in memory if empty)",
			Sources:     cli.EnvVars("VEOCLIP_FIRESTORE_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID of the job ledger",
			Value:       "(default)",
			Sources:     cli.EnvVars("VEOCLIP_FIRESTORE_DATABASE"),
			Destination: &cfg.firestoreDatabase,
		},
	}
}

// veoFlags returns flags for the video generation API
func veoFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "api-key",
			Usage:       "Gemini API key",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.apiKey,
		},
		&cli.StringFlag{
			Name:        "vertex-project",
			Usage:       "Google Cloud project ID to use Veo on Vertex AI instead of the Gemini API",
			Sources:     cli.EnvVars("VEOCLIP_VERTEX_PROJECT"),
			Destination: &cfg.vertexProject,
		},
		&cli.StringFlag{
			Name:        "vertex-location",
			Usage:       "Google Cloud location for Vertex AI",
			Value:       "us-central1",
			Sources:     cli.EnvVars("VEOCLIP_VERTEX_LOCATION"),
			Destination: &cfg.vertexLocation,
		},
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Video generation model",
			Value:       adapter.DefaultVideoModel,
			Sources:     cli.EnvVars("VEOCLIP_MODEL"),
			Destination: &cfg.videoModel,
		},
		&cli.DurationFlag{
			Name:        "poll-interval",
			Usage:       "Interval between job status checks",
			Value:       generation.DefaultPollInterval,
			Sources:     cli.EnvVars("VEOCLIP_POLL_INTERVAL"),
			Destination: &cfg.pollInterval,
		},
		&cli.StringFlag{
			Name:        "ffmpeg",
			Usage:       "Path of the ffmpeg binary used for thumbnails",
			Value:       "ffmpeg",
			Sources:     cli.EnvVars("VEOCLIP_FFMPEG"),
			Destination: &cfg.ffmpegPath,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego admission policies (package admission) checked before each submission",
			Sources:     cli.EnvVars("VEOCLIP_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// setupLogger configures the logger and stores it in ctx
func (cfg *config) setupLogger(ctx context.Context) (context.Context, error) {
	logger, err := logging.New(cfg.logLevel, os.Stderr)
	if err != nil {
		return ctx, goerr.Wrap(err, "failed to create logger")
	}
	logging.SetDefault(logger)
	return logging.With(ctx, logger), nil
}

// newKVStore creates the key-value backend of the history
func (cfg *config) newKVStore(ctx context.Context) (adapter.KVStore, error) {
	switch cfg.historyBackend {
	case historyBackendFile, "":
		dir := cfg.historyDir
		if dir == "" {
			base, err := os.UserConfigDir()
			if err != nil {
				return nil, goerr.Wrap(err, "failed to resolve user config dir")
			}
			dir = filepath.Join(base, "veoclip")
		}
		return adapter.NewFileStore(dir)

	case historyBackendGCS:
		if cfg.historyBucket == "" {
			return nil, goerr.New("history-bucket is required for gcs history backend")
		}
		return adapter.NewGCSStore(ctx, cfg.historyBucket, cfg.historyPrefix)

	case historyBackendMemory:
		return adapter.NewMemoryStore(), nil

	default:
		return nil, goerr.New("unknown history backend", goerr.V("backend", cfg.historyBackend))
	}
}

// newHistoryStore creates a history store and loads the saved collection
func (cfg *config) newHistoryStore(ctx context.Context) (*history.Store, error) {
	kv, err := cfg.newKVStore(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create history backend")
	}

	store := history.New(kv)
	store.Load(ctx)
	return store, nil
}

// newRepository creates the job ledger. Firestore is used when a project is
// configured.
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, func(), error) {
	if cfg.firestoreProject == "" {
		return repository.NewMemory(), func() {}, nil
	}
	if cfg.firestoreDatabase == "" {
		return nil, nil, goerr.New("firestore-database is required")
	}

	repo, err := repository.New(ctx, cfg.firestoreProject, cfg.firestoreDatabase)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, func() {
		if err := repo.Close(); err != nil {
			logging.From(ctx).Warn("failed to close repository", "error", err)
		}
	}, nil
}

// newVeo creates the video generation adapter
func (cfg *config) newVeo(ctx context.Context) (adapter.Veo, error) {
	opts := []adapter.VeoOption{adapter.WithVideoModel(cfg.videoModel)}

	if cfg.vertexProject != "" {
		if cfg.vertexLocation == "" {
			return nil, goerr.New("vertex-location is required")
		}
		return adapter.NewVeoWithVertex(ctx, cfg.vertexProject, cfg.vertexLocation, opts...)
	}

	if cfg.apiKey == "" {
		return nil, goerr.New("api-key (or GEMINI_API_KEY) is required")
	}
	return adapter.NewVeoWithAPIKey(ctx, cfg.apiKey, opts...)
}

// newDownloader creates the downloader of produced videos. Vertex AI may
// return gs:// locations, so a Cloud Storage client is attached in that case.
func (cfg *config) newDownloader(ctx context.Context) (adapter.Downloader, func(), error) {
	if cfg.vertexProject == "" {
		return adapter.NewDownloader(cfg.apiKey), func() {}, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create storage client")
	}
	return adapter.NewDownloader("", adapter.WithGCSClient(client)), func() {
		if err := client.Close(); err != nil {
			logging.From(ctx).Warn("failed to close storage client", "error", err)
		}
	}, nil
}

// newStudio wires every collaborator of the studio. The returned function
// releases them.
func (cfg *config) newStudio(ctx context.Context) (*studio.Studio, *history.Store, func(), error) {
	store, err := cfg.newHistoryStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	veo, err := cfg.newVeo(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	opts := []studio.Option{studio.WithModelName(cfg.videoModel)}
	if cfg.policyDir != "" {
		admission, err := policy.New(ctx, cfg.policyDir)
		if err != nil {
			return nil, nil, nil, goerr.Wrap(err, "failed to load admission policy")
		}
		if admission != nil {
			opts = append(opts, studio.WithAdmission(admission))
		}
	}

	downloader, closeDownloader, err := cfg.newDownloader(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	repo, closeRepo, err := cfg.newRepository(ctx)
	if err != nil {
		closeDownloader()
		return nil, nil, nil, err
	}

	jobs := generation.New(veo, downloader, generation.WithPollInterval(cfg.pollInterval))
	thumbs := asset.NewThumbnailer(asset.NewFFmpeg(cfg.ffmpegPath))

	opts = append(opts, studio.WithRepository(repo))
	s := studio.New(jobs, thumbs, store, opts...)

	return s, store, func() {
		s.Close()
		closeRepo()
		closeDownloader()
	}, nil
}
