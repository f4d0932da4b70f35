package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	invoicesCreated       metric.Int64Counter
	statusTransitions     metric.Int64Counter
	paymentsRecorded      metric.Int64Counter
	negotiationsExecuted  metric.Int64Counter
	overdueSweepProcessed metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "campusbill"
	}
	meter := provider.Meter(name)

	invoicesCreated, err := meter.Int64Counter("campusbill_invoices_created_total")
	if err != nil {
		return nil, err
	}
	statusTransitions, err := meter.Int64Counter("campusbill_invoice_transitions_total")
	if err != nil {
		return nil, err
	}
	paymentsRecorded, err := meter.Int64Counter("campusbill_payments_total")
	if err != nil {
		return nil, err
	}
	negotiationsExecuted, err := meter.Int64Counter("campusbill_negotiations_executed_total")
	if err != nil {
		return nil, err
	}
	overdueSweepProcessed, err := meter.Int64Counter("campusbill_overdue_sweep_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoicesCreated:       invoicesCreated,
		statusTransitions:     statusTransitions,
		paymentsRecorded:      paymentsRecorded,
		negotiationsExecuted:  negotiationsExecuted,
		overdueSweepProcessed: overdueSweepProcessed,
	}, nil
}

// RecordInvoiceCreated increments invoice creation counts.
func (m *Metrics) RecordInvoiceCreated(ctx context.Context, origin string) {
	if m == nil {
		return
	}
	m.invoicesCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("origin", strings.TrimSpace(origin)),
	))
}

// RecordTransition increments status transition counts.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", strings.TrimSpace(from)),
		attribute.String("to", strings.TrimSpace(to)),
	))
}

// RecordPayment increments payment state counts.
func (m *Metrics) RecordPayment(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.paymentsRecorded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", strings.TrimSpace(state)),
	))
}

// RecordNegotiationExecuted increments executed negotiation counts.
func (m *Metrics) RecordNegotiationExecuted(ctx context.Context, installments int) {
	if m == nil {
		return
	}
	m.negotiationsExecuted.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("installments", installments),
	))
}

// RecordOverdueSweep increments the sweep counter by the batch size.
func (m *Metrics) RecordOverdueSweep(ctx context.Context, processed int64) {
	if m == nil || processed <= 0 {
		return
	}
	m.overdueSweepProcessed.Add(ctx, processed)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}
