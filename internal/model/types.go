package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// PolicyParams holds the trainable parameters of a policy or value network
// as a flat, serializable layer stack.
type PolicyParams struct {
	Layers []LayerParams `json:"layers"`
}

type LayerParams struct {
	Inputs     int       `json:"inputs"`
	Outputs    int       `json:"outputs"`
	Weights    []float64 `json:"weights"` // row-major, Outputs x Inputs
	Biases     []float64 `json:"biases"`
	Activation string    `json:"activation"`
}

// Clone returns a deep copy so callers can hand out read-only snapshots.
func (p PolicyParams) Clone() PolicyParams {
	out := PolicyParams{Layers: make([]LayerParams, len(p.Layers))}
	for i, layer := range p.Layers {
		out.Layers[i] = LayerParams{
			Inputs:     layer.Inputs,
			Outputs:    layer.Outputs,
			Weights:    append([]float64(nil), layer.Weights...),
			Biases:     append([]float64(nil), layer.Biases...),
			Activation: layer.Activation,
		}
	}
	return out
}

// PolicyCheckpoint is the unit of policy persistence. The store keys it by
// run id and iteration; the newest checkpoint per run is the resume point.
type PolicyCheckpoint struct {
	VersionedRecord
	RunID        string       `json:"run_id"`
	Iteration    int          `json:"iteration"`
	Algorithm    string       `json:"algorithm"`
	Params       PolicyParams `json:"params"`
	Epsilon      float64      `json:"epsilon"`
	CreatedAtUTC string       `json:"created_at_utc"`
}

// TrainingRecord is one per-iteration metrics row emitted by the trainer.
type TrainingRecord struct {
	Iteration         int     `json:"iteration"`
	MeanReturn        float64 `json:"mean_return"`
	MovingAvgReturn   float64 `json:"moving_avg_return"`
	MeanStepsToFind   float64 `json:"mean_steps_to_find"`
	SuccessRate       float64 `json:"success_rate"`
	Loss              float64 `json:"loss"`
	Epsilon           float64 `json:"epsilon"`
	DegenerateUpdates int     `json:"degenerate_updates"`
	FailedEpisodes    int     `json:"failed_episodes"`
}

// EvalReport summarizes a greedy evaluation pass over held-out episodes.
type EvalReport struct {
	VersionedRecord
	RunID                string  `json:"run_id"`
	Iteration            int     `json:"iteration"`
	Policy               string  `json:"policy"`
	Episodes             int     `json:"episodes"`
	SuccessRate          float64 `json:"success_rate"`
	MeanSteps            float64 `json:"mean_steps"`
	StepsVariance        float64 `json:"steps_variance"`
	DegenerateUpdateRate float64 `json:"degenerate_update_rate"`
}
