package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "iggy_client"

var (
	once sync.Once

	// MessagesSent: успешно отправленные сообщения.
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "publisher", Name: "messages_sent_total",
		Help: "Total number of messages sent successfully",
	})

	// SendErrors: неудачные отправки.
	SendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "publisher", Name: "send_errors_total",
		Help: "Total number of failed sends",
	})

	// SendLatency: длительность одного Send.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "publisher", Name: "send_latency_seconds",
		Help:    "Latency of a single send call (seconds)",
		Buckets: prometheus.DefBuckets,
	})

	// LastMessageID: id последнего сформированного сообщения.
	LastMessageID = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "publisher", Name: "last_message_id",
		Help: "Id of the most recently built message",
	})

	// Polls: все запросы пачек.
	Polls = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "poller", Name: "polls_total",
		Help: "Total number of poll requests",
	})

	// PollErrors: опросы, завершившиеся ошибкой транспорта.
	PollErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "poller", Name: "poll_errors_total",
		Help: "Total number of failed polls",
	})

	// EmptyPolls: опросы без сообщений.
	EmptyPolls = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "poller", Name: "empty_polls_total",
		Help: "Total number of polls that returned no messages",
	})

	// MessagesReceived: обработанные сообщения.
	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "poller", Name: "messages_received_total",
		Help: "Total number of messages processed",
	})

	// DecodeFallbacks: нагрузки, отрисованные как best-effort текст.
	DecodeFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "poller", Name: "decode_fallbacks_total",
		Help: "Payloads that could not be decoded and were rendered as text",
	})

	// CurrentOffset: текущий курсор опроса.
	CurrentOffset = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "poller", Name: "current_offset",
		Help: "Offset the next poll starts from",
	})

	// BootstrapCreated: созданные при bootstrap ресурсы.
	BootstrapCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "bootstrap", Name: "created_total",
		Help: "Streams and topics created during bootstrap",
	}, []string{"resource"})
)

// Register регистрирует все метрики в заданном реестре.
// Можно вызвать без аргументов, чтобы зарегистрировать в DefaultRegisterer.
func Register(registerers ...prometheus.Registerer) {
	once.Do(func() {
		var reg prometheus.Registerer
		if len(registerers) > 0 && registerers[0] != nil {
			reg = registerers[0]
		} else {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			MessagesSent,
			SendErrors,
			SendLatency,
			LastMessageID,
			Polls,
			PollErrors,
			EmptyPolls,
			MessagesReceived,
			DecodeFallbacks,
			CurrentOffset,
			BootstrapCreated,
		)
	})
}
