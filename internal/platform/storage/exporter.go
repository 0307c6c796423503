package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	domain "github.com/ledgerlink/billing/internal/domain"
)

// ObjectWriter stores a single object. GCSObjectWriter is the production implementation.
type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, object string, attrs ObjectAttrs, body []byte) error
}

// ObjectAttrs carry the metadata written alongside an object.
type ObjectAttrs struct {
	ContentType string
	Metadata    map[string]string
}

// GCSObjectWriter writes objects to Cloud Storage.
type GCSObjectWriter struct {
	client *gcs.Client
}

// NewGCSObjectWriter constructs a writer backed by the provided Cloud Storage client.
func NewGCSObjectWriter(client *gcs.Client) (*GCSObjectWriter, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	return &GCSObjectWriter{client: client}, nil
}

// WriteObject uploads body in one request, replacing any existing object.
func (w *GCSObjectWriter) WriteObject(ctx context.Context, bucket, object string, attrs ObjectAttrs, body []byte) error {
	if w == nil || w.client == nil {
		return errors.New("storage writer: client is not initialised")
	}
	writer := w.client.Bucket(bucket).Object(object).NewWriter(ctx)
	writer.ContentType = attrs.ContentType
	writer.Metadata = attrs.Metadata
	writer.ChunkSize = 0
	if _, err := writer.Write(body); err != nil {
		_ = writer.Close()
		return fmt.Errorf("storage writer: write %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("storage writer: close %s: %w", object, err)
	}
	return nil
}

// ReportExporterDeps wires the report exporter.
type ReportExporterDeps struct {
	Writer ObjectWriter
	Bucket string
	// Signer is optional; when set, exports log a signed download URL.
	Signer *Client
	URLTTL time.Duration
	Logger func(context.Context, string, map[string]any)
}

// ReportExporter writes serialised billing reports to the exports bucket.
type ReportExporter struct {
	writer ObjectWriter
	bucket string
	signer *Client
	urlTTL time.Duration
	logger func(context.Context, string, map[string]any)
}

// NewReportExporter validates dependencies and returns an exporter.
func NewReportExporter(deps ReportExporterDeps) (*ReportExporter, error) {
	if deps.Writer == nil {
		return nil, errors.New("report exporter: object writer is required")
	}
	bucket := strings.TrimSpace(deps.Bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ReportExporter{
		writer: deps.Writer,
		bucket: bucket,
		signer: deps.Signer,
		urlTTL: deps.URLTTL,
		logger: logger,
	}, nil
}

// Export writes the body under the report's object path and returns that path.
func (e *ReportExporter) Export(ctx context.Context, report *domain.BillingReport, format domain.ReportFormat, body []byte) (string, error) {
	if report == nil {
		return "", errors.New("report exporter: report is required")
	}
	path, err := BuildReportPath(ReportPathParams{
		CustomerID: report.CustomerID,
		ReportID:   report.ID,
		Period:     report.Period,
		Format:     format,
	})
	if err != nil {
		return "", err
	}

	attrs := ObjectAttrs{
		ContentType: format.ContentType(),
		Metadata: map[string]string{
			"reportId":    report.ID,
			"customerId":  report.CustomerID,
			"totalAmount": report.TotalAmount.StringFixed(2),
			"generatedAt": report.GeneratedAt.UTC().Format(time.RFC3339),
		},
	}
	if err := e.writer.WriteObject(ctx, e.bucket, path, attrs, body); err != nil {
		return "", err
	}

	fields := map[string]any{
		"reportId": report.ID,
		"bucket":   e.bucket,
		"object":   path,
		"bytes":    len(body),
	}
	if url, ok := e.DownloadURL(ctx, path); ok {
		fields["downloadUrl"] = url
	}
	e.logger(ctx, "billing.report_exported", fields)
	return path, nil
}

// DownloadURL signs a short-lived download link for an exported object. It reports false when
// no signer is configured or signing fails.
func (e *ReportExporter) DownloadURL(ctx context.Context, object string) (string, bool) {
	if e == nil || e.signer == nil {
		return "", false
	}
	name := object[strings.LastIndex(object, "/")+1:]
	res, err := e.signer.DownloadURL(ctx, e.bucket, object, DownloadOptions{
		ExpiresIn:   e.urlTTL,
		Disposition: fmt.Sprintf("attachment; filename=%q", name),
	})
	if err != nil {
		e.logger(ctx, "billing.report_sign_failed", map[string]any{"object": object, "error": err.Error()})
		return "", false
	}
	return res.URL, true
}
