package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Debits counts debit attempts against the credit ledger.
	Debits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prepq_debits_total",
		Help: "Credit debit attempts by feature and outcome.",
	}, []string{"feature", "outcome"})

	// Generations counts pipeline invocations end to end.
	Generations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prepq_generations_total",
		Help: "Question generation invocations by kind and outcome.",
	}, []string{"kind", "outcome"})

	// ParseStages records which fallback parser stage produced each
	// successfully parsed response.
	ParseStages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prepq_parse_stage_total",
		Help: "Successful parses by parser stage.",
	}, []string{"stage"})
)

// RegisterRoutes mounts the Prometheus scrape endpoint.
func RegisterRoutes(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
