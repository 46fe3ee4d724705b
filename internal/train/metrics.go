package train

import (
	"go.uber.org/zap"

	"plumetrack/internal/model"
)

// MetricsSink receives per-iteration training records and evaluation
// reports as they are produced. Implementations must be safe for use
// from the training goroutine only.
type MetricsSink interface {
	RecordIteration(rec model.TrainingRecord)
	RecordEval(report model.EvalReport)
}

// NopSink discards all metrics.
type NopSink struct{}

func (NopSink) RecordIteration(model.TrainingRecord) {}
func (NopSink) RecordEval(model.EvalReport)          {}

// ZapSink logs metrics through a structured logger.
type ZapSink struct {
	Logger *zap.Logger
}

func (s ZapSink) RecordIteration(rec model.TrainingRecord) {
	s.Logger.Info("training iteration",
		zap.Int("iteration", rec.Iteration),
		zap.Float64("mean_return", rec.MeanReturn),
		zap.Float64("moving_avg_return", rec.MovingAvgReturn),
		zap.Float64("mean_steps_to_find", rec.MeanStepsToFind),
		zap.Float64("success_rate", rec.SuccessRate),
		zap.Float64("loss", rec.Loss),
		zap.Float64("epsilon", rec.Epsilon),
		zap.Int("degenerate_updates", rec.DegenerateUpdates),
		zap.Int("failed_episodes", rec.FailedEpisodes),
	)
}

func (s ZapSink) RecordEval(report model.EvalReport) {
	s.Logger.Info("evaluation",
		zap.String("run_id", report.RunID),
		zap.Int("iteration", report.Iteration),
		zap.String("policy", report.Policy),
		zap.Int("episodes", report.Episodes),
		zap.Float64("success_rate", report.SuccessRate),
		zap.Float64("mean_steps", report.MeanSteps),
		zap.Float64("steps_variance", report.StepsVariance),
		zap.Float64("degenerate_update_rate", report.DegenerateUpdateRate),
	)
}
