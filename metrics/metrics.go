package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

const (
	MetricsNamespace = "testbridge"
)

var (
	Debug                bool = false
	validResults              = []types.TestStatus{types.TestStatusPass, types.TestStatusFail, types.TestStatusSkip, types.TestStatusError}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	// Registry holds every collector of this package. It is what the metrics server exposes.
	Registry = prometheus.NewRegistry()
	factory  = promauto.With(Registry)

	errorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	eventsSentTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "events_sent_total",
		Help:      "Count of events written to the host connection",
	}, []string{
		"result_type",
	})

	eventsSuppressedTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "events_suppressed_total",
		Help:      "Count of finished events dropped because the test already failed",
	})

	transmitErrorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "transmit_errors_total",
		Help:      "Count of events that could not be written to the host connection",
	}, []string{
		"result_type",
	})

	eventsReceivedTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "events_received_total",
		Help:      "Count of events decoded by the collector",
	}, []string{
		"result_type",
	})

	decodeErrorsTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "decode_errors_total",
		Help:      "Count of records the collector could not decode",
	})

	runResults = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of collected test runs",
	}, []string{
		"run_id",
		"result",
	})

	runTestTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_total",
		Help:      "Total number of tests reported by finished runs",
	}, []string{
		"run_id",
	})

	runTestFailed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_failed",
		Help:      "Number of failed tests reported by finished runs",
	}, []string{
		"run_id",
	})

	runTestIgnored = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_ignored",
		Help:      "Number of ignored tests reported by finished runs",
	}, []string{
		"run_id",
	})

	runDuration = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration",
		Help:      "Elapsed time reported by finished runs",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordEventSent(resultType types.ResultType) {
	if Debug {
		log.Debug("metric inc", "m", "events_sent_total", "result_type", resultType)
	}
	eventsSentTotal.WithLabelValues(resultType.String()).Inc()
}

func RecordEventSuppressed() {
	eventsSuppressedTotal.Inc()
}

func RecordTransmitError(resultType types.ResultType, err error) {
	transmitErrorsTotal.WithLabelValues(resultType.String()).Inc()
	RecordErrorDetails("transmit", err)
}

func RecordEventReceived(resultType types.ResultType) {
	if Debug {
		log.Debug("metric inc", "m", "events_received_total", "result_type", resultType)
	}
	eventsReceivedTotal.WithLabelValues(resultType.String()).Inc()
}

func RecordDecodeError(err error) {
	decodeErrorsTotal.Inc()
	RecordErrorDetails("decode", err)
}

// RecordRun publishes the outcome of a collected run
func RecordRun(runID string, status types.TestStatus, result types.Result) {
	if !isValidResult(status) {
		log.Error("RecordRun - invalid result", "result", status)
		return
	}
	runResults.WithLabelValues(runID, string(status)).Set(1)
	runTestTotal.WithLabelValues(runID).Add(float64(result.RunCount))
	runTestFailed.WithLabelValues(runID).Add(float64(result.FailureCount))
	runTestIgnored.WithLabelValues(runID).Add(float64(result.IgnoreCount))
	runDuration.WithLabelValues(runID).Set(result.RunTime.Seconds())
}

func isValidResult(result types.TestStatus) bool {
	return slices.Contains(validResults, result)
}
