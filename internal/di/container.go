// Package di assembles the billing store, services and distribution adapters from configuration.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerlink/billing/internal/platform/config"
	"github.com/ledgerlink/billing/internal/repositories"
	"github.com/ledgerlink/billing/internal/services"
)

// Services bundles the service-layer contracts that handlers and the CLI rely upon.
type Services struct {
	Reports services.BillingReportService
	Rules   services.RuleToolingService
	System  services.SystemService
}

// Deps carries optional collaborators that are built outside the container.
type Deps struct {
	Notifier services.ReportNotifier
	Exporter services.ReportExporter
	Logger   func(context.Context, string, map[string]any)
	Build    services.BuildInfo
	// HealthChecks are probed by /readyz next to the store check.
	HealthChecks []repositories.DependencyCheck
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies over reg. Tests can supply a fixture store.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Deps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}
	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases the store.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Deps) (Services, error) {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	validator, err := services.NewRuleValidator()
	if err != nil {
		return Services{}, fmt.Errorf("build rule validator: %w", err)
	}
	advanced, err := services.NewAdvancedRuleEngine(services.AdvancedRuleEngineDeps{
		Validator: validator,
		Logger:    logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build advanced rule engine: %w", err)
	}
	costs, err := services.NewServiceCostCalculator(services.ServiceCostCalculatorDeps{
		CustomerServices: reg.CustomerServices(),
		Products:         reg.Products(),
		Logger:           logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build service cost calculator: %w", err)
	}
	reports, err := services.NewBillingReportGenerator(services.BillingReportGeneratorDeps{
		Customers:                reg.Customers(),
		Orders:                   reg.Orders(),
		CustomerServices:         reg.CustomerServices(),
		RuleGroups:               reg.RuleGroups(),
		Evaluator:                services.NewRuleEvaluator(services.RuleEvaluatorDeps{Logger: logger}),
		Costs:                    costs,
		Advanced:                 advanced,
		ApplyAdvancedAdjustments: cfg.Billing.ApplyAdvancedAdjustments,
		Notifier:                 deps.Notifier,
		Exporter:                 deps.Exporter,
		Logger:                   logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build billing report generator: %w", err)
	}

	checks := append([]repositories.DependencyCheck{{
		Name:     "store",
		Critical: true,
		Timeout:  2 * time.Second,
		Check:    reg.Ping,
	}}, deps.HealthChecks...)
	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	build := deps.Build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            time.Now,
		Build:            build,
		Logger:           logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}

	return Services{
		Reports: reports,
		Rules:   validator,
		System:  system,
	}, nil
}
