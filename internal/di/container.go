package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cartledger/api/internal/platform/config"
	"github.com/cartledger/api/internal/repositories"
	"github.com/cartledger/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Carts       services.CartService
	Fulfillment services.FulfillmentService
	Taxes       services.TaxService
	Discounts   services.DiscountService
	Merges      services.MergeService
	System      services.SystemService
}

// Deps carries the collaborators the container cannot build itself.
type Deps struct {
	Registry repositories.Registry

	// Rates is the external tax-rate lookup. Optional; without it destination
	// jurisdictions resolve to a zero external rate.
	Rates services.RateLookup

	// RepairJobs receives reconciliation repair messages when a cascade step
	// fails mid-way. Optional.
	RepairJobs services.RepairJobPublisher

	Logger func(context.Context, string, map[string]any)

	Version     string
	Environment string
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// real implementations, while tests can supply stub registries.
func NewContainer(ctx context.Context, cfg config.Config, deps Deps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(deps Deps) (Services, error) {
	var svc Services
	reg := deps.Registry

	cartsRepo := reg.Carts()
	if cartsRepo == nil {
		return Services{}, errors.New("cart repository is required")
	}

	fulfillmentSvc, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Repository: cartsRepo,
		Clock:      time.Now,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillment = fulfillmentSvc

	discountSvc, err := services.NewDiscountService(services.DiscountServiceDeps{
		Discounts: reg.Discounts(),
		Carts:     cartsRepo,
		Clock:     time.Now,
		Logger:    deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discount service: %w", err)
	}
	svc.Discounts = discountSvc

	validator, err := services.NewCartItemValidator(services.CartItemValidatorDeps{
		Clock: time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build item validator: %w", err)
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Repository:  cartsRepo,
		Validator:   validator,
		Discounts:   discountSvc,
		Fulfillment: fulfillmentSvc,
		RepairJobs:  deps.RepairJobs,
		Clock:       time.Now,
		Logger:      deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Carts = cartSvc

	mergeSvc, err := services.NewMergeService(services.MergeServiceDeps{
		Repository: cartsRepo,
		Carts:      cartSvc,
		Clock:      time.Now,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build merge service: %w", err)
	}
	svc.Merges = mergeSvc

	taxSvc, err := services.NewTaxService(services.TaxServiceDeps{
		Jurisdictions: reg.TaxJurisdictions(),
		Accounts:      reg.Accounts(),
		Rates:         deps.Rates,
		Clock:         time.Now,
		Logger:        deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build tax service: %w", err)
	}
	svc.Taxes = taxSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			Health:      healthRepo,
			Version:     deps.Version,
			Environment: deps.Environment,
			Clock:       time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
