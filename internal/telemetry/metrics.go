package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter    metric.Int64Counter
	RequestDuration   metric.Float64Histogram
	PDFProcessingTime metric.Float64Histogram
	ChunksIndexed     metric.Int64Counter
	QuestionsAnswered metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("pdf-chat-backend")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	pdfProcessingTime, err := meter.Float64Histogram(
		"pdf.processing.duration",
		metric.WithDescription("PDF processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	chunksIndexed, err := meter.Int64Counter(
		"index.chunks.indexed",
		metric.WithDescription("Chunks added to the vector index"),
	)
	if err != nil {
		return nil, err
	}

	questionsAnswered, err := meter.Int64Counter(
		"chat.questions.total",
		metric.WithDescription("Questions answered, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:    requestCounter,
		RequestDuration:   requestDuration,
		PDFProcessingTime: pdfProcessingTime,
		ChunksIndexed:     chunksIndexed,
		QuestionsAnswered: questionsAnswered,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordPDFProcessing records document ingestion metrics
func (m *Metrics) RecordPDFProcessing(duration float64, status string, chunks int) {
	attrs := []attribute.KeyValue{
		attribute.String("pdf.status", status),
	}

	m.PDFProcessingTime.Record(context.Background(), duration, metric.WithAttributes(attrs...))
	if chunks > 0 {
		m.ChunksIndexed.Add(context.Background(), int64(chunks))
	}
}

// RecordQuestion records a chat question by outcome (answered, fallback,
// failed).
func (m *Metrics) RecordQuestion(outcome string) {
	m.QuestionsAnswered.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("chat.outcome", outcome),
	))
}
