package config

import "testing"

func TestParseConfigYAMLString(t *testing.T) {
	yamlText := `
logging:
  level: debug
server:
  addr: ":9090"
`

	cfg, err := ParseConfigYAMLString(yamlText)
	if err != nil {
		t.Fatalf("ParseConfigYAMLString failed: %v", err)
	}
	if cfg == nil {
		t.Fatalf("expected non-nil config")
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected level debug, got %q", cfg.Logging.Level)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("expected addr :9090, got %q", cfg.Server.Addr)
	}

	// Fields absent from the file keep their defaults.
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected default format json, got %q", cfg.Logging.Format)
	}
	if cfg.Optimizer.MaxEvaluations != 2000 {
		t.Fatalf("expected default budget 2000, got %d", cfg.Optimizer.MaxEvaluations)
	}
	if !cfg.Optimizer.Polish {
		t.Fatalf("expected polish enabled by default")
	}
	if cfg.Model.Kind != "analytic" {
		t.Fatalf("expected default model kind analytic, got %q", cfg.Model.Kind)
	}
}

func TestParseConfigYAMLStringExplicitFalse(t *testing.T) {
	cfg, err := ParseConfigYAMLString(`
optimizer:
  polish: false
`)
	if err != nil {
		t.Fatalf("ParseConfigYAMLString failed: %v", err)
	}
	if cfg.Optimizer.Polish {
		t.Fatalf("expected an explicit polish: false to override the default")
	}
}

func TestParseConfigYAMLStringInvalid(t *testing.T) {
	tests := []struct {
		name     string
		yamlText string
	}{
		{
			name: "Invalid log level",
			yamlText: `
logging:
  level: nope`,
		},
		{
			name: "Invalid log format",
			yamlText: `
logging:
  format: xml`,
		},
		{
			name: "Invalid model kind",
			yamlText: `
model:
  kind: quantum`,
		},
		{
			name: "Neural model without weights",
			yamlText: `
model:
  kind: neural`,
		},
		{
			name: "Zero evaluation budget",
			yamlText: `
optimizer:
  max_evaluations: 0`,
		},
		{
			name: "Negative restarts",
			yamlText: `
optimizer:
  restarts: -1`,
		},
		{
			name: "Final temperature above initial",
			yamlText: `
optimizer:
  final_temp: 2.0`,
		},
		{
			name: "Bad server duration",
			yamlText: `
server:
  read_header_timeout: soon`,
		},
		{
			name: "Empty server addr",
			yamlText: `
server:
  addr: ""`,
		},
		{
			name: "Surrogate enabled without weights",
			yamlText: `
surrogate:
  enabled: true`,
		},
		{
			name: "Negative notifier retries",
			yamlText: `
notifier:
  max_retries: -2`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfigYAMLString(tt.yamlText)
			if err == nil {
				t.Fatalf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestParseConfigYAMLStringMalformed(t *testing.T) {
	tests := []struct {
		name     string
		yamlText string
	}{
		{
			name:     "Unclosed bracket",
			yamlText: `server: [unclosed`,
		},
		{
			name: "Invalid indentation",
			yamlText: `
logging:
  level: info
 server:
  addr: ":8080"`,
		},
		{
			name:     "Invalid YAML syntax",
			yamlText: `logging: {{{invalid}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfigYAMLString(tt.yamlText)
			if err == nil {
				t.Fatalf("expected error when parsing malformed YAML")
			}
		})
	}
}

func TestParseCampaignYAMLString(t *testing.T) {
	yamlText := `
min: 0.30
max: 0.45
count: 8
seed: 42
parallelism: 2
output: rows.csv
`

	cam, err := ParseCampaignYAMLString(yamlText)
	if err != nil {
		t.Fatalf("ParseCampaignYAMLString failed: %v", err)
	}
	if cam.Count != 8 {
		t.Fatalf("expected count 8, got %d", cam.Count)
	}
	if cam.Seed != 42 {
		t.Fatalf("expected seed 42, got %d", cam.Seed)
	}
	if cam.Output != "rows.csv" {
		t.Fatalf("expected output rows.csv, got %q", cam.Output)
	}
	if cam.Optimizer.MaxEvaluations != 2000 {
		t.Fatalf("expected default budget 2000, got %d", cam.Optimizer.MaxEvaluations)
	}
}

func TestParseCampaignYAMLStringExplicitTargets(t *testing.T) {
	cam, err := ParseCampaignYAMLString(`
targets: [0.30, 0.35, 0.40]
`)
	if err != nil {
		t.Fatalf("ParseCampaignYAMLString failed: %v", err)
	}
	if len(cam.Targets) != 3 {
		t.Fatalf("expected 3 targets, got %d", len(cam.Targets))
	}
	if cam.Targets[1] != 0.35 {
		t.Fatalf("expected second target 0.35, got %g", cam.Targets[1])
	}
}

func TestParseCampaignYAMLStringInvalid(t *testing.T) {
	tests := []struct {
		name     string
		yamlText string
	}{
		{
			name:     "Zero count without targets",
			yamlText: `count: 0`,
		},
		{
			name: "Max below min",
			yamlText: `
min: 0.45
max: 0.30
count: 8`,
		},
		{
			name:     "Negative parallelism",
			yamlText: `parallelism: -1`,
		},
		{
			name: "Bad optimizer override",
			yamlText: `
optimizer:
  max_evaluations: -5`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCampaignYAMLString(tt.yamlText)
			if err == nil {
				t.Fatalf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestParseCampaignYAMLMalformed(t *testing.T) {
	_, err := ParseCampaignYAML([]byte(`targets: [unclosed`))
	if err == nil {
		t.Fatalf("expected error when parsing malformed YAML")
	}
}
