package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine agrupa os coletores dos jobs, da liquidação e das recompensas
type Engine struct {
	JobRuns      *prometheus.CounterVec
	JobSkips     *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	Errors       *prometheus.CounterVec
	BetsSettled  *prometheus.CounterVec
	PointsPaid   prometheus.Counter
	OddsAdjusted prometheus.Counter
	ZonesOpened  prometheus.Counter
	Rewards      *prometheus.CounterVec
	RewardCoins  prometheus.Counter
}

func NewEngine(reg prometheus.Registerer) *Engine {
	m := &Engine{
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_job_runs_total",
			Help: "Execuções de job do scheduler por resultado.",
		}, []string{"job", "result"}),
		JobSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_job_skips_total",
			Help: "Ticks pulados porque a execução anterior ainda rodava.",
		}, []string{"job"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wager_job_duration_seconds",
			Help:    "Duração das execuções de job.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"job"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_errors_total",
			Help: "Falhas por componente e etapa.",
		}, []string{"component", "stage"}),
		BetsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_bets_settled_total",
			Help: "Apostas liquidadas por resultado.",
		}, []string{"outcome"}),
		PointsPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wager_points_paid_total",
			Help: "Pontos creditados pela liquidação.",
		}),
		OddsAdjusted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wager_odds_adjusted_total",
			Help: "Zonas com odd alterada pelo recálculo.",
		}),
		ZonesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wager_zones_opened_total",
			Help: "Zonas abertas pelo job de manutenção.",
		}),
		Rewards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_rewards_total",
			Help: "Claims de recompensa por resultado (credited, replay ou código de erro).",
		}, []string{"result"}),
		RewardCoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wager_reward_coins_total",
			Help: "Moedas creditadas por anúncios.",
		}),
	}
	reg.MustRegister(m.JobRuns, m.JobSkips, m.JobDuration, m.Errors, m.BetsSettled,
		m.PointsPaid, m.OddsAdjusted, m.ZonesOpened, m.Rewards, m.RewardCoins)
	return m
}

// ObserveJob registra uma execução do scheduler
func (m *Engine) ObserveJob(job string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
	m.JobDuration.WithLabelValues(job).Observe(took.Seconds())
}

func (m *Engine) SkipJob(job string) { m.JobSkips.WithLabelValues(job).Inc() }

// ErrorFunc devolve um callback de falha por etapa para o componente
func (m *Engine) ErrorFunc(component string) func(stage string) {
	return func(stage string) { m.Errors.WithLabelValues(component, stage).Inc() }
}

func (m *Engine) Settled(outcome string, n int) { m.BetsSettled.WithLabelValues(outcome).Add(float64(n)) }

func (m *Engine) Paid(points int64) { m.PointsPaid.Add(float64(points)) }

func (m *Engine) RewardCredited(coins int64) {
	m.Rewards.WithLabelValues("credited").Inc()
	m.RewardCoins.Add(float64(coins))
}

func (m *Engine) RewardReplayed() { m.Rewards.WithLabelValues("replay").Inc() }

func (m *Engine) RewardRejected(code string) { m.Rewards.WithLabelValues(code).Inc() }
