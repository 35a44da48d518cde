package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"horizon-portal/internal/domain"
)

// Recorder exports questionnaire lifecycle counters to Prometheus.
type Recorder struct {
	registry    *prometheus.Registry
	answers     prometheus.Counter
	transitions *prometheus.CounterVec
	rejections  *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		answers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "horizon",
			Name:      "answers_saved_total",
			Help:      "Answers upserted into draft questionnaires.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "horizon",
			Name:      "questionnaire_transitions_total",
			Help:      "Questionnaire status changes by source and target status.",
		}, []string{"from", "to"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "horizon",
			Name:      "questionnaire_rejections_total",
			Help:      "Lifecycle operations refused, by reason.",
		}, []string{"reason"}),
	}
	r.registry.MustRegister(
		r.answers,
		r.transitions,
		r.rejections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) AnswersSaved(n int) {
	r.answers.Add(float64(n))
}

func (r *Recorder) Transition(from, to domain.QuestionnaireStatus) {
	r.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (r *Recorder) Rejected(reason string) {
	r.rejections.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
