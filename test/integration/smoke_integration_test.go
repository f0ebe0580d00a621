//go:build integration
// +build integration

package integration_test

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/reactorlab/setpoint-core/internal/reactor"
	"github.com/reactorlab/setpoint-core/internal/setpoint"
	"github.com/reactorlab/setpoint-core/pkg/config"
)

func TestIntegration_ConfigAndCampaignLoadSmoke(t *testing.T) {
	cfgPath := filepath.Join("..", "..", "config", "setpointd.yaml")
	campaignPath := filepath.Join("..", "..", "config", "campaign.yaml")

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("LoadConfig(%s) failed: %v", cfgPath, err)
	}
	if cfg == nil {
		t.Fatalf("LoadConfig(%s) returned nil config", cfgPath)
	}
	if cfg.Server.Addr == "" {
		t.Fatalf("expected config to set a listen address")
	}
	if cfg.Optimizer.MaxEvaluations <= 0 {
		t.Fatalf("expected config to set an evaluation budget")
	}

	cam, err := config.LoadCampaign(campaignPath)
	if err != nil {
		t.Fatalf("LoadCampaign(%s) failed: %v", campaignPath, err)
	}
	if cam == nil {
		t.Fatalf("LoadCampaign(%s) returned nil campaign", campaignPath)
	}
	if len(cam.Targets) == 0 && cam.Count < 1 {
		t.Fatalf("expected campaign to define a target grid")
	}
}

func TestIntegration_OptimizerRunSmoke(t *testing.T) {
	model := reactor.NewCSTR()

	opts := setpoint.DefaultOptions()
	opts.MaxEvaluations = 400
	opts.PolishReserve = 100
	opts.Seed = 11

	opt, err := setpoint.New(model, opts)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	res, err := opt.Optimize(context.Background(), 0.40)
	if err != nil {
		t.Fatalf("Optimize error: %v", err)
	}

	if !opts.Bounds.Contains(res.Best) {
		t.Fatalf("best setpoint %+v outside the operating box", res.Best)
	}
	if res.Evaluations <= 0 || res.Evaluations > opts.MaxEvaluations {
		t.Fatalf("evaluations %d outside (0, %d]", res.Evaluations, opts.MaxEvaluations)
	}
	if res.Seed != opts.Seed {
		t.Fatalf("expected seed %d echoed, got %d", opts.Seed, res.Seed)
	}
	for name, v := range map[string]float64{
		"c_a":  res.Outputs.CA,
		"c_b":  res.Outputs.CB,
		"t_k":  res.Outputs.TK,
		"cost": res.Cost,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("%s is not finite: %v", name, v)
		}
	}

	// The same seed must replay the run exactly.
	again, err := opt.Optimize(context.Background(), 0.40)
	if err != nil {
		t.Fatalf("replay Optimize error: %v", err)
	}
	if again.Best != res.Best || again.Cost != res.Cost || again.Evaluations != res.Evaluations {
		t.Fatalf("replay diverged: first %+v cost=%g evals=%d, second %+v cost=%g evals=%d",
			res.Best, res.Cost, res.Evaluations, again.Best, again.Cost, again.Evaluations)
	}
}
