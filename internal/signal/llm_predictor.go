package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"autotrader/internal/indicator"
	"autotrader/internal/llm"
	"autotrader/internal/llm/prompts"
)

var ErrNoPrediction = errors.New("model returned no prediction")

// LLMPredictor asks a chat model for a forecast. It prefers the
// submit_prediction tool and falls back to a JSON object in the reply.
type LLMPredictor struct {
	client   *llm.Client
	system   string
	forecast *prompts.Forecast
	context  string

	mu       sync.Mutex
	recorded *Prediction
}

type LLMPredictorConfig struct {
	Provider           llm.Provider
	UseTools           bool
	SystemPromptPath   string
	ForecastPromptPath string
	Context            string
	Temperature        float64
}

func NewLLMPredictor(cfg LLMPredictorConfig) (*LLMPredictor, error) {
	system, err := prompts.Load(cfg.SystemPromptPath, prompts.DefaultSystemPrompt())
	if err != nil {
		return nil, err
	}
	text, err := prompts.Load(cfg.ForecastPromptPath, prompts.DefaultForecastPrompt())
	if err != nil {
		return nil, err
	}
	forecast, err := prompts.ParseForecast(text)
	if err != nil {
		return nil, err
	}

	p := &LLMPredictor{
		system:   strings.TrimSpace(system),
		forecast: forecast,
		context:  strings.TrimSpace(cfg.Context),
	}
	opts := []llm.Option{llm.WithTemperature(cfg.Temperature)}
	if cfg.UseTools {
		opts = append(opts, llm.WithTool(p.submitTool()))
	}
	p.client = llm.New(cfg.Provider, opts...)
	return p, nil
}

func (p *LLMPredictor) Predict(ctx context.Context, features Features) (Prediction, error) {
	data := prompts.ForecastData{
		Context:      p.context,
		Symbol:       features.Symbol,
		Timestamp:    features.Timestamp.Format(time.RFC3339),
		Close:        features.Close,
		PositionOpen: features.PositionOpen,
	}
	for _, name := range featureOrder(features) {
		value := "undefined"
		if v, ok := features.Values[name]; ok {
			value = fmt.Sprintf("%.4f", v)
		}
		data.Features = append(data.Features, prompts.Feature{Name: name, Value: value})
	}
	prompt, err := p.forecast.Render(data)
	if err != nil {
		return Prediction{}, err
	}

	// One predictor serves one symbol worker, so calls do not overlap.
	p.reset()
	resp, err := p.client.Ask(ctx, p.system, prompt)
	if err != nil {
		return Prediction{}, fmt.Errorf("ask model: %w", err)
	}
	if prediction, ok := p.take(); ok {
		return prediction, nil
	}
	return parsePrediction(resp.Message.Content)
}

func (p *LLMPredictor) submitTool() llm.Tool {
	schema := &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"direction":  {Type: "string", Enum: []string{string(Buy), string(Sell), string(Hold)}},
			"confidence": {Type: "number", Minimum: llm.Float(0), Maximum: llm.Float(1)},
			"reason":     {Type: "string", Description: "one short sentence"},
		},
		Required: []string{"direction", "confidence"},
	}
	return llm.NewTool("submit_prediction", "Record the forecast for this symbol", schema,
		func(ctx context.Context, in Prediction) (any, error) {
			in.Direction = NormalizeDirection(string(in.Direction))
			p.mu.Lock()
			p.recorded = &in
			p.mu.Unlock()
			return map[string]string{"status": "recorded"}, nil
		})
}

func (p *LLMPredictor) reset() {
	p.mu.Lock()
	p.recorded = nil
	p.mu.Unlock()
}

func (p *LLMPredictor) take() (Prediction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recorded == nil {
		return Prediction{}, false
	}
	return *p.recorded, true
}

func parsePrediction(content string) (Prediction, error) {
	var prediction Prediction
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return Prediction{}, ErrNoPrediction
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &prediction); err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrNoPrediction, err)
	}
	prediction.Direction = NormalizeDirection(string(prediction.Direction))
	return prediction, nil
}

func featureOrder(features Features) []string {
	known := make(map[string]bool, len(features.Values)+len(features.Undefined))
	for name := range features.Values {
		known[name] = true
	}
	for _, name := range features.Undefined {
		known[name] = true
	}
	names := make([]string, 0, len(known))
	for _, r := range Readings(indicator.Snapshot{}) {
		if known[r.Name] {
			names = append(names, r.Name)
		}
	}
	return names
}
