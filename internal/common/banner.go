package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner
func PrintBanner(config *Config, logger arbor.ILogger) {
	version := GetVersion()
	build := GetBuild()

	serviceURL := fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)

	// Create banner with custom styling - BLUE for codestory
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorBlue).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("CODE STORY")
	b.PrintCenteredText("Repository Knowledge Graph Ingestion")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 15)
	b.PrintKeyValue("Build", build, 15)
	b.PrintKeyValue("Environment", config.Environment, 15)
	b.PrintKeyValue("Service URL", serviceURL, 15)
	b.PrintBottomLine()
	fmt.Printf("\n")

	logger.Info().
		Str("version", version).
		Str("build", build).
		Str("environment", config.Environment).
		Str("service_url", serviceURL).
		Msg("Application started")

	printCapabilities(config, logger)
	fmt.Printf("\n")
}

// printCapabilities displays the system capabilities
func printCapabilities(config *Config, logger arbor.ILogger) {
	fmt.Printf("Enabled pipeline steps:\n")

	stepNames := []string{}
	for _, step := range config.Pipeline.Steps {
		fmt.Printf("   - %s (concurrency: %d)\n", step.Name, step.Concurrency)
		stepNames = append(stepNames, step.Name)
	}
	if len(stepNames) == 0 {
		fmt.Printf("   - No steps configured (configure in codestory.toml)\n")
	}

	fmt.Printf("   - Graph database: %s\n", config.Graph.URI)
	fmt.Printf("   - LLM provider: %s\n", config.LLM.DefaultProvider)
	if len(config.Schedules) > 0 {
		fmt.Printf("   - Scheduled ingestions: %d\n", len(config.Schedules))
	}

	logger.Info().
		Strs("steps", stepNames).
		Str("graph_uri", config.Graph.URI).
		Str("llm_provider", string(config.LLM.DefaultProvider)).
		Int("schedules", len(config.Schedules)).
		Msg("System capabilities")
}

// PrintShutdownBanner displays the application shutdown banner
func PrintShutdownBanner(logger arbor.ILogger) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorBlue).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(42)

	b.PrintTopLine()
	b.PrintCenteredText("SHUTTING DOWN")
	b.PrintCenteredText("CODE STORY")
	b.PrintBottomLine()
	fmt.Println()

	logger.Info().Msg("Application shutting down")
}
