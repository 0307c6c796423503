// Command billing-report generates a billing report from a YAML dataset or the configured store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/ledgerlink/billing/internal/di"
	"github.com/ledgerlink/billing/internal/platform/config"
	"github.com/ledgerlink/billing/internal/platform/observability"
	"github.com/ledgerlink/billing/internal/platform/secrets"
	"github.com/ledgerlink/billing/internal/repositories"
	"github.com/ledgerlink/billing/internal/services"
)

type options struct {
	customerID string
	start      string
	end        string
	format     string
	fixture    string
	out        string
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "billing-report: %v\n", err)
		os.Exit(2)
	}

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "billing-report: read environment: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.NewLogger(envValues["BILLING_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "billing-report: initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := observability.WithLogger(context.Background(), logger.Named("billing-report"))
	if err := run(ctx, opts, logger, os.Stdout); err != nil {
		logger.Error("billing report failed", zap.Error(err), zap.String("customer_id", opts.customerID))
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("billing-report", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.customerID, "customer", "", "customer id (required)")
	fs.StringVar(&opts.start, "start", "", "period start, YYYY-MM-DD or RFC 3339 (required)")
	fs.StringVar(&opts.end, "end", "", "period end, YYYY-MM-DD or RFC 3339 (required)")
	fs.StringVar(&opts.format, "format", "", "report format: json or csv (defaults to BILLING_REPORT_DEFAULT_FORMAT)")
	fs.StringVar(&opts.fixture, "fixture", "", "YAML dataset to read instead of the configured store")
	fs.StringVar(&opts.out, "out", "", "output file (defaults to stdout)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	var missing []string
	if strings.TrimSpace(opts.customerID) == "" {
		missing = append(missing, "-customer")
	}
	if strings.TrimSpace(opts.start) == "" {
		missing = append(missing, "-start")
	}
	if strings.TrimSpace(opts.end) == "" {
		missing = append(missing, "-end")
	}
	if len(missing) > 0 {
		return options{}, fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	return opts, nil
}

func run(ctx context.Context, opts options, logger *zap.Logger, stdout io.Writer) error {
	cfg, reg, err := openStore(ctx, opts, logger)
	if err != nil {
		return err
	}

	container, err := di.NewContainer(ctx, cfg, reg, di.Deps{
		Logger: observability.NewEventLogger(logger.Named("billing")),
	})
	if err != nil {
		_ = reg.Close(ctx)
		return fmt.Errorf("build services: %w", err)
	}
	defer func() {
		if err := container.Close(ctx); err != nil {
			logger.Warn("billing store close error", zap.Error(err))
		}
	}()

	start, err := services.ParseReportDate(opts.start, false)
	if err != nil {
		return err
	}
	end, err := services.ParseReportDate(opts.end, true)
	if err != nil {
		return err
	}
	rawFormat := opts.format
	if strings.TrimSpace(rawFormat) == "" {
		rawFormat = cfg.Billing.DefaultFormat
	}
	format, err := services.ParseReportFormat(rawFormat)
	if err != nil {
		return err
	}

	reportCtx, cancel := context.WithTimeout(ctx, cfg.Billing.ReportTimeout)
	defer cancel()
	body, err := container.Services.Reports.GenerateBillingReport(reportCtx, opts.customerID, start, end, format)
	if err != nil {
		return err
	}
	return writeOutput(opts.out, stdout, body)
}

// openStore loads configuration and opens the store. A fixture flag overrides the configured
// driver and skips secret resolution.
func openStore(ctx context.Context, opts options, logger *zap.Logger) (config.Config, repositories.Registry, error) {
	if path := strings.TrimSpace(opts.fixture); path != "" {
		cfg, err := config.Load(ctx, config.WithEnvMap(map[string]string{
			"BILLING_STORE_DRIVER":       "fixture",
			"BILLING_STORE_FIXTURE_PATH": path,
		}))
		if err != nil {
			return config.Config{}, nil, fmt.Errorf("load configuration: %w", err)
		}
		reg, err := di.OpenRegistry(ctx, cfg)
		if err != nil {
			return config.Config{}, nil, err
		}
		return cfg, reg, nil
	}

	fetcher, err := secrets.NewFetcher(ctx, secrets.WithLogger(logger.Named("secrets")))
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		_ = fetcher.Close()
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load configuration: %w", err)
	}
	reg, err := di.OpenRegistry(ctx, cfg)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, reg, nil
}

func writeOutput(path string, stdout io.Writer, body string) error {
	if strings.TrimSpace(path) == "" {
		_, err := io.WriteString(stdout, body)
		return err
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
