package capture

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/MrWong99/earshot/pkg/capture"

// instruments holds the OpenTelemetry instruments recorded by a Service.
type instruments struct {
	samplesWritten metric.Int64Counter
	overruns       metric.Int64Counter
	starved        metric.Int64Counter
	deviceErrors   metric.Int64Counter
	recording      metric.Float64Histogram
}

var recordingBuckets = []float64{0.5, 1, 2, 3, 5, 8, 10, 15, 30}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	m := mp.Meter(meterName)
	var err error
	ins := &instruments{}

	if ins.samplesWritten, err = m.Int64Counter("earshot.capture.samples_written",
		metric.WithDescription("Mono samples written to the capture ring buffer."),
	); err != nil {
		return nil, err
	}
	if ins.overruns, err = m.Int64Counter("earshot.capture.overruns",
		metric.WithDescription("Samples skipped by streaming readers because they were overwritten."),
	); err != nil {
		return nil, err
	}
	if ins.starved, err = m.Int64Counter("earshot.capture.starved",
		metric.WithDescription("Sequential reads that timed out and were zero-padded."),
	); err != nil {
		return nil, err
	}
	if ins.deviceErrors, err = m.Int64Counter("earshot.capture.device_errors",
		metric.WithDescription("Asynchronous errors reported by the input device."),
	); err != nil {
		return nil, err
	}
	if ins.recording, err = m.Float64Histogram("earshot.recording.duration",
		metric.WithDescription("Length of recorded utterances, lookback included."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}
	return ins, nil
}
