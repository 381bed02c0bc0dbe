package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/importer"
	"github.com/dvloznov/settlement-reconciler/internal/logger"
)

// Importer is the part of importer.Importer the handler drives.
type Importer interface {
	ImportStatementRows(ctx context.Context, source, account string, rows []importer.Row) (importer.Summary, error)
	ImportPDF(ctx context.Context, gcsURI, source, account string) (importer.Summary, error)
	ImportSettlementEntries(ctx context.Context, rows []importer.Row) (importer.Summary, error)
	ImportContractRules(ctx context.Context, rows []importer.Row) (importer.Summary, error)
}

// NewImportHandler returns the handler that runs import jobs. Parse
// failures are permanent; storage failures are retried.
func NewImportHandler(storage importer.StorageService, im Importer) JobHandler {
	return func(ctx context.Context, job *ImportJob) error {
		log := logger.FromContext(ctx).With().
			Str("job_id", job.JobID).
			Str("kind", string(job.Kind)).
			Str("gcs_uri", job.GCSURI).
			Logger()
		ctx = logger.WithContext(ctx, log)

		if err := job.Validate(); err != nil {
			return Permanent(err)
		}

		var (
			sum importer.Summary
			err error
		)
		if job.Kind == KindStatementPDF {
			sum, err = im.ImportPDF(ctx, job.GCSURI, job.Source, job.Account)
		} else {
			sum, err = runRowImport(ctx, storage, im, job)
		}
		job.Summary = &sum
		if err != nil {
			if errors.Is(err, domain.ErrParse) {
				return Permanent(err)
			}
			return err
		}
		log.Info().Int("added", sum.Added).Int("duplicates", sum.Duplicates).Msg("import job done")
		return nil
	}
}

func runRowImport(ctx context.Context, storage importer.StorageService, im Importer, job *ImportJob) (importer.Summary, error) {
	data, err := storage.FetchFromGCS(ctx, job.GCSURI)
	if err != nil {
		return importer.Summary{}, fmt.Errorf("fetch %s: %w", job.GCSURI, err)
	}
	rows, err := importer.ReadRows(bytes.NewReader(data), job.Format)
	if err != nil {
		return importer.Summary{}, Permanent(err)
	}

	switch job.Kind {
	case KindStatementRows:
		return im.ImportStatementRows(ctx, job.Source, job.Account, rows)
	case KindSettlementEntries:
		return im.ImportSettlementEntries(ctx, rows)
	case KindContractRules:
		return im.ImportContractRules(ctx, rows)
	}
	return importer.Summary{}, Permanent(fmt.Errorf("unsupported job kind %q", job.Kind))
}
