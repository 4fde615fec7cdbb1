package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"llmgate/internal/balancer"
	"llmgate/internal/config"
	"llmgate/internal/transform/factory"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for provider details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("%s Configuration Setup", AppName)
	color.Yellow("Follow the prompts to configure your first upstream provider.")

	reader := bufio.NewReader(os.Stdin)

	prompt := func(label string) string {
		fmt.Printf("%s: ", label)
		value, _ := reader.ReadString('\n')

		return strings.TrimSpace(value)
	}

	providerName := prompt("\nProvider name (e.g., openai, anthropic)")
	protocol := prompt(fmt.Sprintf("Protocol %v", factory.Protocols()))
	baseURL := prompt("API endpoint URL (e.g., https://api.openai.com/v1/chat/completions)")
	apiKey := prompt("Provider API key")
	logicalModel := prompt("Logical model name clients will request (e.g., default)")
	upstreamModel := prompt("Upstream model it maps to (e.g., gpt-4o)")
	gatewayKey := prompt("Gateway API key (optional, for client authentication)")

	cfg := &config.Config{
		Host:   config.DefaultHost,
		Port:   config.DefaultPort,
		APIKey: gatewayKey,
		Providers: []config.ProviderConfig{
			{
				Name:     providerName,
				Protocol: protocol,
				APIBase:  baseURL,
				APIKey:   apiKey,
			},
		},
		Models: []config.ModelConfig{
			{
				Name: logicalModel,
				Bindings: []config.BindingConfig{
					{Provider: providerName, Model: upstreamModel, Weight: 1},
				},
			},
		},
		Router: config.RouterConfig{
			Strategy: balancer.StrategyRoundRobin,
			Default:  logicalModel,
		},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the gateway with: %s start", AppName)

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run '%s config init' to create one.", AppName)
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())

	fmt.Println("\nProviders:")

	for _, provider := range cfg.Providers {
		fmt.Printf("  - Name: %s\n", provider.Name)
		fmt.Printf("    Protocol: %s\n", provider.Protocol)
		fmt.Printf("    API Base: %s\n", provider.APIBase)
		fmt.Printf("    API Key: %s\n", maskString(provider.APIKey))
		fmt.Println()
	}

	fmt.Println("Models:")

	for _, model := range cfg.Models {
		fmt.Printf("  - Name: %s\n", model.Name)

		for _, binding := range model.Bindings {
			state := "enabled"
			if !binding.On() {
				state = "disabled"
			}

			fmt.Printf("    %s/%s (weight %g, %s)\n",
				binding.Provider, binding.Model, binding.Weight, state)

			if binding.Pricing != nil {
				fmt.Printf("      pricing: %s\n", binding.Pricing.Mode)
			}
		}
	}

	fmt.Println("\nRouter Configuration:")
	fmt.Printf("  %-15s: %s\n", "Strategy", cfg.Router.Strategy)
	fmt.Printf("  %-15s: %s\n", "Default", cfg.Router.Default)

	if cfg.Router.LongContext != "" {
		fmt.Printf("  %-15s: %s\n", "Long Context", cfg.Router.LongContext)
		fmt.Printf("  %-15s: %d\n", "LC Threshold", cfg.Router.LongContextThreshold)
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found")
	}

	// Load validates protocols, binding references, pricing tiers and
	// router targets.
	if _, err := cfgMgr.Load(); err != nil {
		color.Red("Configuration validation failed:")
		fmt.Printf("  - %v\n", err)

		return fmt.Errorf("configuration validation failed")
	}

	color.Green("Configuration is valid!")

	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
