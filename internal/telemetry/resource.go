package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Service identifies this process in exported telemetry and names the OTLP collector
type Service struct {
	Name     string
	Version  string
	Endpoint string
	Insecure bool
}

// DefaultService exports as "offline-sync" to a collector on localhost
func DefaultService() Service {
	return Service{
		Name:     DefaultServiceName,
		Version:  "unknown",
		Endpoint: DefaultEndpoint,
	}
}

// Service returns the identity and export target described by the configuration
func (c *Config) Service() Service {
	return Service{
		Name:     c.GetServiceName(),
		Version:  c.GetServiceVersion(),
		Endpoint: c.GetEndpoint(),
		Insecure: c.Insecure,
	}
}

// withDefaults fills empty fields from DefaultService
func (s Service) withDefaults() Service {
	def := DefaultService()
	if s.Name == "" {
		s.Name = def.Name
	}
	if s.Version == "" {
		s.Version = def.Version
	}
	if s.Endpoint == "" {
		s.Endpoint = def.Endpoint
	}
	return s
}

func (s Service) resource(ctx context.Context) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(s.Name),
			semconv.ServiceVersion(s.Version),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
