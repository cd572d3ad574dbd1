// Package textmodel derives, trains, stores, and samples Markov text models.
package textmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/spider-emissaries/internal/emissary"
	"github.com/JakeFAU/spider-emissaries/internal/markov"
	"github.com/JakeFAU/spider-emissaries/internal/metrics"
)

var (
	// ErrMissingURL is returned when GetOrCreate is called without a URL.
	ErrMissingURL = errors.New("url is required")
	// ErrMissingLabel is returned when GenerateSentence is called without a label.
	ErrMissingLabel = errors.New("model_label is required")
	// ErrParentNotFound is returned when the parent label is not stored.
	ErrParentNotFound = errors.New("parent model not found")
)

// ScrapeError wraps a failure to retrieve the source URL.
type ScrapeError struct {
	URL string
	Err error
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("scrape %s: %v", e.URL, e.Err)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// Config tunes training and generation.
type Config struct {
	StateSize     int
	SentenceTries int
	// ArchivePrefix is the object prefix used when an archive is configured.
	ArchivePrefix string
}

// Deps bundles the Service collaborators. Archive and Logger are optional.
type Deps struct {
	Store   emissary.ModelStore
	Scraper emissary.Scraper
	Hasher  emissary.Hasher
	Archive emissary.BlobStore
	Logger  *zap.Logger
}

// Service implements the model lifecycle on top of a ModelStore.
type Service struct {
	cfg     Config
	store   emissary.ModelStore
	scraper emissary.Scraper
	hasher  emissary.Hasher
	archive emissary.BlobStore
	logger  *zap.Logger
}

// New validates deps and builds a Service.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("model store is required")
	}
	if deps.Scraper == nil {
		return nil, fmt.Errorf("scraper is required")
	}
	if deps.Hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if cfg.StateSize <= 0 {
		cfg.StateSize = markov.DefaultStateSize
	}
	if cfg.SentenceTries <= 0 {
		cfg.SentenceTries = 100
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:     cfg,
		store:   deps.Store,
		scraper: deps.Scraper,
		hasher:  deps.Hasher,
		archive: deps.Archive,
		logger:  logger,
	}, nil
}

// DeriveLabel hashes the parent label (or nothing) followed by the URL.
func (s *Service) DeriveLabel(parentLabel, url string) (string, error) {
	label, err := s.hasher.Hash([]byte(parentLabel + url))
	if err != nil {
		return "", fmt.Errorf("derive label: %w", err)
	}
	return label, nil
}

// GetOrCreate returns the label for (parentLabel, url), training and
// storing the model first when it does not exist yet. created reports
// whether this call stored it.
func (s *Service) GetOrCreate(ctx context.Context, parentLabel, url string) (label string, created bool, err error) {
	if url == "" {
		return "", false, ErrMissingURL
	}
	defer func() {
		switch {
		case err != nil:
			metrics.ObserveModel("failed")
		case created:
			metrics.ObserveModel("created")
		default:
			metrics.ObserveModel("existing")
		}
	}()

	label, err = s.DeriveLabel(parentLabel, url)
	if err != nil {
		return "", false, err
	}
	exists, err := s.store.HasModel(ctx, label)
	if err != nil {
		return "", false, fmt.Errorf("lookup model %s: %w", label, err)
	}
	if exists {
		return label, false, nil
	}

	if parentLabel != "" {
		ok, err := s.store.HasModel(ctx, parentLabel)
		if err != nil {
			return "", false, fmt.Errorf("lookup parent %s: %w", parentLabel, err)
		}
		if !ok {
			return "", false, fmt.Errorf("%w: %s", ErrParentNotFound, parentLabel)
		}
	}

	corpus, err := s.scraper.Scrape(ctx, url)
	if err != nil {
		return "", false, &ScrapeError{URL: url, Err: err}
	}
	model, err := markov.New(corpus, s.cfg.StateSize)
	if err != nil {
		return "", false, fmt.Errorf("train %s: %w", url, err)
	}
	if parentLabel != "" {
		parent, err := s.load(ctx, parentLabel)
		if err != nil {
			return "", false, fmt.Errorf("load parent: %w", err)
		}
		model, err = markov.Combine([]*markov.Text{parent, model}, nil)
		if err != nil {
			return "", false, fmt.Errorf("combine with parent %s: %w", parentLabel, err)
		}
	}

	data, err := json.Marshal(model)
	if err != nil {
		return "", false, fmt.Errorf("encode model: %w", err)
	}
	if err := s.store.PutModel(ctx, label, data); err != nil {
		if errors.Is(err, emissary.ErrModelExists) {
			s.logger.Debug("model stored concurrently", zap.String("label", label))
			return label, false, nil
		}
		return "", false, fmt.Errorf("store model %s: %w", label, err)
	}
	s.logger.Info("model created",
		zap.String("label", label),
		zap.String("parent", parentLabel),
		zap.String("url", url),
		zap.Int("sentences", model.SentenceCount()),
	)
	s.archiveModel(ctx, label, data)
	return label, true, nil
}

// GenerateSentence samples one sentence from the stored model. An empty
// string with a nil error means no original sentence was found.
func (s *Service) GenerateSentence(ctx context.Context, label string) (string, error) {
	if label == "" {
		return "", ErrMissingLabel
	}
	model, err := s.load(ctx, label)
	if err != nil {
		metrics.ObserveSentence("failed")
		return "", err
	}
	sentence, ok := model.MakeSentence(s.cfg.SentenceTries)
	if !ok {
		metrics.ObserveSentence("empty")
		return "", nil
	}
	metrics.ObserveSentence("generated")
	return sentence, nil
}

func (s *Service) load(ctx context.Context, label string) (*markov.Text, error) {
	data, err := s.store.GetModel(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", label, err)
	}
	model, err := markov.FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", label, err)
	}
	return model, nil
}

func (s *Service) archiveModel(ctx context.Context, label string, data []byte) {
	if s.archive == nil {
		return
	}
	objectPath := path.Join(s.cfg.ArchivePrefix, label+".json")
	uri, err := s.archive.PutObject(ctx, objectPath, "application/json", bytes.NewReader(data))
	if err != nil {
		s.logger.Warn("archive model failed", zap.String("label", label), zap.Error(err))
		return
	}
	s.logger.Debug("model archived", zap.String("label", label), zap.String("uri", uri))
}
