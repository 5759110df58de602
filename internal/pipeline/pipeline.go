package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"

	"parisdvf/server/internal/dvf"
	"parisdvf/server/internal/models"
	"parisdvf/server/internal/transform"
)

// LoadMode selects how a run writes into the store.
type LoadMode string

const (
	// LoadModeReplace truncates before loading. Re-running a replace
	// run leaves exactly one copy of the batch in the store.
	LoadModeReplace LoadMode = "replace"
	// LoadModeAppend inserts without truncating.
	LoadModeAppend LoadMode = "append"
)

// Stage names used in StageError and run logging.
const (
	StageRetrieve  = "retrieve"
	StageTransform = "transform"
	StageLoad      = "load"
	StageIndex     = "index"
)

// StageError identifies which pipeline stage failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Fetcher retrieves raw records from the upstream open-data APIs.
type Fetcher interface {
	FetchMutations(ctx context.Context, codeInsee, anneeMin, anneeMax string) ([]Mutation, error)
	FetchParcelles(ctx context.Context, codeInsee string) (*geojson.FeatureCollection, error)
}

// Mutation aliases the raw record type so stage wiring reads uniformly.
type Mutation = dvf.Mutation

// Store persists normalized records.
type Store interface {
	ReplaceTransactions(txs []models.Transaction) error
	AppendTransactions(txs []models.Transaction) error
	ReplaceParcelles(parcels []models.Parcel) error
	CountTransactions() (int64, error)
}

// Indexer rebuilds the full-text search index from a loaded batch.
type Indexer interface {
	Rebuild(txs []models.Transaction) (indexed, failed int, err error)
}

// Options configures a single pipeline run.
type Options struct {
	Codes         []string
	AnneeMin      string
	AnneeMax      string
	Mode          LoadMode
	WithParcelles bool
}

// Result summarizes a completed run.
type Result struct {
	RunID       string        `json:"run_id"`
	Fetched     int           `json:"fetched"`
	Loaded      int           `json:"loaded"`
	Indexed     int           `json:"indexed"`
	IndexFailed int           `json:"index_failed"`
	Parcelles   int           `json:"parcelles"`
	Duration    time.Duration `json:"duration"`
}

// Pipeline drives the retrieve, transform, load and index stages in
// order. A failed retrieve for one commune skips that commune; a failed
// load aborts the run; a failed index is logged and the run still
// succeeds, since the store remains authoritative.
type Pipeline struct {
	fetcher     Fetcher
	transformer *transform.Transformer
	store       Store
	indexer     Indexer
	logger      *logrus.Logger
}

func NewPipeline(fetcher Fetcher, store Store, indexer Indexer, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Pipeline{
		fetcher:     fetcher,
		transformer: transform.NewTransformer(),
		store:       store,
		indexer:     indexer,
		logger:      logger,
	}
}

// Run executes one full pass over the configured communes.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Mode == "" {
		opts.Mode = LoadModeReplace
	}
	runID := uuid.New().String()
	start := time.Now()

	log := p.logger.WithFields(logrus.Fields{
		"run_id": runID,
		"mode":   string(opts.Mode),
	})
	log.WithFields(logrus.Fields{
		"communes":  len(opts.Codes),
		"annee_min": opts.AnneeMin,
		"annee_max": opts.AnneeMax,
	}).Info("Pipeline run started")

	raw, collections, err := p.retrieve(ctx, opts, log)
	if err != nil {
		return nil, &StageError{Stage: StageRetrieve, Err: err}
	}
	if len(raw) == 0 {
		// Loading nothing in replace mode would truncate a populated
		// store; the run ends here instead.
		return nil, &StageError{Stage: StageRetrieve, Err: fmt.Errorf("no records retrieved for %d communes", len(opts.Codes))}
	}

	txs := p.transformer.Mutations(raw)
	log.WithFields(logrus.Fields{
		"raw":     len(raw),
		"kept":    len(txs),
		"dropped": len(raw) - len(txs),
	}).Info("Transformed mutations")

	if err := p.load(opts.Mode, txs); err != nil {
		return nil, &StageError{Stage: StageLoad, Err: err}
	}

	result := &Result{
		RunID:   runID,
		Fetched: len(raw),
		Loaded:  len(txs),
	}

	if opts.WithParcelles {
		n, err := p.loadParcelles(collections, txs)
		if err != nil {
			return nil, &StageError{Stage: StageLoad, Err: err}
		}
		result.Parcelles = n
	}

	if p.indexer != nil {
		indexed, failed, err := p.indexer.Rebuild(txs)
		if err != nil {
			// The store stays authoritative; search degrades until
			// the next rebuild.
			log.WithError(err).Error("Search index rebuild failed")
		}
		result.Indexed = indexed
		result.IndexFailed = failed
	}

	result.Duration = time.Since(start)
	log.WithFields(logrus.Fields{
		"fetched":  result.Fetched,
		"loaded":   result.Loaded,
		"indexed":  result.Indexed,
		"duration": result.Duration.String(),
	}).Info("Pipeline run finished")
	return result, nil
}

func (p *Pipeline) retrieve(ctx context.Context, opts Options, log *logrus.Entry) ([]Mutation, map[string]*geojson.FeatureCollection, error) {
	var raw []Mutation
	collections := make(map[string]*geojson.FeatureCollection)

	for _, code := range opts.Codes {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		mutations, err := p.fetcher.FetchMutations(ctx, code, opts.AnneeMin, opts.AnneeMax)
		if err != nil {
			return nil, nil, err
		}
		raw = append(raw, mutations...)
		log.WithFields(logrus.Fields{
			"code_insee": code,
			"records":    len(mutations),
		}).Info("Retrieved commune")

		if !opts.WithParcelles {
			continue
		}
		fc, err := p.fetcher.FetchParcelles(ctx, code)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			log.WithError(err).WithField("code_insee", code).Warn("Skipping cadastre for commune")
			continue
		}
		collections[code] = fc
	}
	return raw, collections, nil
}

func (p *Pipeline) load(mode LoadMode, txs []models.Transaction) error {
	switch mode {
	case LoadModeAppend:
		return p.store.AppendTransactions(txs)
	default:
		return p.store.ReplaceTransactions(txs)
	}
}

func (p *Pipeline) loadParcelles(collections map[string]*geojson.FeatureCollection, txs []models.Transaction) (int, error) {
	var parcels []models.Parcel
	for _, fc := range collections {
		parcels = append(parcels, p.transformer.Parcelles(fc, txs)...)
	}
	if err := p.store.ReplaceParcelles(parcels); err != nil {
		return 0, err
	}
	return len(parcels), nil
}

// EnsureData bootstraps an empty store: when no transactions exist the
// full pipeline runs, otherwise the existing data is served as-is.
func (p *Pipeline) EnsureData(ctx context.Context, opts Options) (*Result, error) {
	count, err := p.store.CountTransactions()
	if err != nil {
		return nil, fmt.Errorf("failed to check store: %w", err)
	}
	if count > 0 {
		p.logger.WithField("transactions", count).Info("Store already populated, skipping bootstrap")
		return nil, nil
	}
	p.logger.Info("Store empty, running initial pipeline")
	return p.Run(ctx, opts)
}
