package telemetry

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMeterProvider exports every meter, Go runtime statistics included,
// through the returned Prometheus scrape handler.
func InitMeterProvider(ctx context.Context, svc Service) (http.Handler, func(context.Context) error, error) {
	res, err := svc.Resource(ctx)
	if err != nil {
		return nil, nil, err
	}
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	mp := metric.NewMeterProvider(metric.WithReader(exporter), metric.WithResource(res))
	if err := runtime.Start(runtime.WithMeterProvider(mp)); err != nil {
		return nil, nil, errors.Join(err, mp.Shutdown(ctx))
	}
	otel.SetMeterProvider(mp)

	return promhttp.Handler(), mp.Shutdown, nil
}
