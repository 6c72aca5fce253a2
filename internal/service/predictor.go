package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
)

type ModelKind string

const (
	ModelAnomaly            ModelKind = "anomaly"
	ModelPerformance        ModelKind = "performance"
	ModelResourceAllocation ModelKind = "resource_allocation"
)

type Prediction struct {
	Kind        ModelKind `json:"kind"`
	Value       float64   `json:"prediction"`
	Confidence  float64   `json:"confidence"`
	Explanation string    `json:"explanation"`
}

// Predictor is the model inference boundary used by the telemetry and
// transfer optimisation routes.
type Predictor interface {
	Predict(ctx context.Context, kind ModelKind, features map[string]float64) (Prediction, error)
}

// anomalyLimits are the per-feature ceilings above which a sample is
// considered anomalous.
var anomalyLimits = map[string]float64{
	"latency_ms":       500,
	"packet_loss_rate": 0.05,
	"cpu_usage":        90,
	"memory_usage":     90,
	"retry_count":      3,
}

// HeuristicPredictor scores telemetry with fixed thresholds. It needs no
// trained model and is deterministic.
type HeuristicPredictor struct {
	TotalBandwidthMbps float64
}

func NewHeuristicPredictor() *HeuristicPredictor {
	return &HeuristicPredictor{TotalBandwidthMbps: 1000}
}

func (p *HeuristicPredictor) Predict(_ context.Context, kind ModelKind, features map[string]float64) (Prediction, error) {
	switch kind {
	case ModelAnomaly:
		return p.anomaly(features), nil
	case ModelPerformance:
		return p.performance(features), nil
	case ModelResourceAllocation:
		return p.allocation(features), nil
	default:
		return Prediction{}, apperrors.BadRequest(fmt.Sprintf("unknown model kind %q", kind))
	}
}

func (p *HeuristicPredictor) anomaly(f map[string]float64) Prediction {
	var triggered []string
	for name, limit := range anomalyLimits {
		if v, ok := f[name]; ok && v > limit {
			triggered = append(triggered, name)
		}
	}
	sort.Strings(triggered)
	if len(triggered) == 0 {
		return Prediction{Kind: ModelAnomaly, Value: 0, Confidence: 0.8, Explanation: "all metrics within normal range"}
	}
	return Prediction{
		Kind:        ModelAnomaly,
		Value:       1,
		Confidence:  math.Min(0.95, 0.5+0.15*float64(len(triggered))),
		Explanation: "thresholds exceeded: " + strings.Join(triggered, ", "),
	}
}

func (p *HeuristicPredictor) performance(f map[string]float64) Prediction {
	bw, ok := f["bandwidth_mbps"]
	if !ok || bw <= 0 {
		return Prediction{Kind: ModelPerformance, Confidence: 0.5, Explanation: "bandwidth_mbps missing, no estimate"}
	}
	loss := clamp(f["packet_loss_rate"], 0, 1)
	throughput := bw * 0.8 * (1 - loss)

	confidence := 0.8
	if loss > 0.1 || f["latency_ms"] > 1000 {
		confidence *= 0.7
	}
	return Prediction{
		Kind:        ModelPerformance,
		Value:       round2(throughput),
		Confidence:  confidence,
		Explanation: fmt.Sprintf("expected throughput %.2f Mbps at %.0f%% efficiency", throughput, 80*(1-loss)),
	}
}

// allocation recommends a bandwidth share. Utilisation between 80% and 90%
// of the link scores best.
func (p *HeuristicPredictor) allocation(f map[string]float64) Prediction {
	total := p.TotalBandwidthMbps
	if v, ok := f["total_bandwidth_mbps"]; ok && v > 0 {
		total = v
	}
	demand := f["bandwidth_demand"]
	if demand <= 0 {
		demand = 100
	}
	recommended := math.Min(demand, total*0.85)
	return Prediction{
		Kind:        ModelResourceAllocation,
		Value:       round2(recommended),
		Confidence:  round2(efficiencyScore(recommended / total)),
		Explanation: fmt.Sprintf("allocate %.2f of %.0f Mbps", recommended, total),
	}
}

func efficiencyScore(utilization float64) float64 {
	switch {
	case utilization >= 0.8 && utilization <= 0.9:
		return 1
	case utilization < 0.8:
		return utilization / 0.8
	default:
		return math.Max(0, 1-(utilization-0.9)/0.1)
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
