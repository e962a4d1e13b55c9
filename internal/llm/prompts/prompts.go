package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"
)

//go:embed system.md
var defaultSystemPrompt string

//go:embed forecast.md
var defaultForecastPrompt string

type Feature struct {
	Name  string
	Value string
}

type ForecastData struct {
	Context      string
	Symbol       string
	Timestamp    string
	Close        float64
	PositionOpen bool
	Features     []Feature
}

func DefaultSystemPrompt() string {
	return strings.TrimSpace(defaultSystemPrompt)
}

func DefaultForecastPrompt() string {
	return defaultForecastPrompt
}

// Load reads a prompt override from path, or returns fallback when path is
// empty. A configured path that cannot be read is an error.
func Load(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt %s: %w", path, err)
	}
	return string(contents), nil
}

type Forecast struct {
	tmpl *template.Template
}

func ParseForecast(text string) (*Forecast, error) {
	tmpl, err := template.New("forecast").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse forecast prompt: %w", err)
	}
	return &Forecast{tmpl: tmpl}, nil
}

func (f *Forecast) Render(data ForecastData) (string, error) {
	var builder strings.Builder
	if err := f.tmpl.Execute(&builder, data); err != nil {
		return "", fmt.Errorf("render forecast prompt: %w", err)
	}
	return builder.String(), nil
}
