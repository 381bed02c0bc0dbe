package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/settlement-reconciler/internal/config"
	"github.com/dvloznov/settlement-reconciler/internal/extract"
	"github.com/dvloznov/settlement-reconciler/internal/gcs"
	"github.com/dvloznov/settlement-reconciler/internal/importer"
	"github.com/dvloznov/settlement-reconciler/internal/logger"
	"github.com/dvloznov/settlement-reconciler/internal/notionsync"
)

// ErrStorageDisabled is returned by imports that need Cloud Storage when
// GCS_BUCKET is not set.
var ErrStorageDisabled = errors.New("cloud storage is not configured (set GCS_BUCKET)")

// Services are the optional cloud collaborators. Each field is nil when its
// configuration is missing.
type Services struct {
	Storage   *gcs.Service
	Extractor *extract.GeminiExtractor
	Notion    *notionsync.AuditDB
	Exporter  *notionsync.Exporter
}

// OpenServices connects the services the configuration enables.
func OpenServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	log := logger.FromContext(ctx)
	s := &Services{}

	if cfg.GCSBucket != "" {
		storage, err := gcs.NewService(ctx)
		if err != nil {
			return nil, fmt.Errorf("OpenServices: %w", err)
		}
		s.Storage = storage

		extractor, err := extract.NewGeminiExtractor(ctx,
			extract.WithModel(cfg.GeminiModel),
			extract.WithBank(cfg.StatementBank),
		)
		if err != nil {
			// Row imports still work without the model.
			log.Warn().Err(err).Msg("PDF extraction disabled")
		} else {
			s.Extractor = extractor
		}
	} else {
		log.Warn().Msg("No GCS bucket configured - uploads and PDF imports are disabled")
	}

	if cfg.NotionEnabled() {
		s.Notion = notionsync.NewAuditDB(cfg.NotionToken, cfg.NotionAuditDBID)
		s.Exporter = notionsync.NewExporter(s.Notion)
	}
	return s, nil
}

// Close releases the storage client.
func (s *Services) Close() error {
	if s.Storage == nil {
		return nil
	}
	return s.Storage.Close()
}

// Fetcher returns the storage used by import jobs.
func (s *Services) Fetcher() importer.StorageService {
	if s.Storage == nil {
		return disabledStorage{}
	}
	return s.Storage
}

// ImporterOptions enables PDF imports when storage and the model are
// available.
func (s *Services) ImporterOptions() []importer.Option {
	if s.Storage == nil || s.Extractor == nil {
		return nil
	}
	return []importer.Option{importer.WithPDFSupport(s.Storage, s.Extractor)}
}

type disabledStorage struct{}

func (disabledStorage) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	return nil, ErrStorageDisabled
}
