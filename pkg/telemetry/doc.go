// Package telemetry provides logging, tracing and metrics for netops.
//
// Logging uses zerolog. Tracing uses OpenTelemetry with a stdout or OTLP
// exporter, producing one span per operation and one child span per phase.
// Metrics are Prometheus collectors on a private registry, exposed through
// Metrics.Handler.
//
// Observer bridges the controllers and this package:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	backup, err := operations.NewBackupController(operations.Deps{
//	    Device:   device,
//	    Notifier: notifier,
//	    Observer: tel.Observer(),
//	    Logger:   tel.Logger.Zerolog(),
//	}, opts)
//
// Span start and end timestamps are taken from the operation and phase
// records, so traces line up with the controller clock.
package telemetry
