package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/boardroom/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "boardroom.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file",
				Action: runConfigValidate,
			},
			{
				Name:   "show",
				Usage:  "Print the effective configuration with secrets redacted",
				Action: runConfigShow,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	configPath := c.String("config")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Println("Configuration is valid")
	return nil
}

func runConfigShow(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Printf("server.port                        = %d\n", cfg.Server.Port)
	fmt.Printf("server.jwt_secret                  = %s\n", redact(cfg.Server.JWTSecret))
	fmt.Printf("database.url                       = %s\n", redact(cfg.Database.URL))
	fmt.Printf("deliberation.support_threshold     = %.2f\n", cfg.Deliberation.SupportThreshold)
	fmt.Printf("deliberation.veto_threshold        = %.2f\n", cfg.Deliberation.VetoThreshold)
	fmt.Printf("deliberation.tie_epsilon           = %.2f\n", cfg.Deliberation.TieEpsilon)
	fmt.Printf("deliberation.max_turns             = %d\n", cfg.Deliberation.MaxTurns)
	fmt.Printf("deliberation.agent_timeout_seconds = %d\n", cfg.Deliberation.AgentTimeoutSeconds)
	fmt.Printf("intake.group_prefix                = %s\n", cfg.Intake.GroupPrefix)
	fmt.Printf("intake.batch_size                  = %d\n", cfg.Intake.BatchSize)
	fmt.Printf("intake.max_attempts                = %d\n", cfg.Intake.MaxAttempts)
	fmt.Printf("checkpoint.retention               = %d\n", cfg.Checkpoint.Retention)
	fmt.Printf("checkpoint.max_snapshot_bytes      = %d\n", cfg.Checkpoint.MaxSnapshotBytes)
	fmt.Printf("lease.ttl_seconds                  = %d\n", cfg.Lease.TTLSeconds)
	fmt.Printf("agents.roster                      = %s\n", strings.Join(cfg.Agents.Roster, ", "))
	fmt.Printf("agents.provider                    = %s\n", cfg.Agents.Provider)
	fmt.Printf("agents.model                       = %s\n", cfg.Agents.Model)
	fmt.Printf("agents.api_key                     = %s\n", redact(cfg.Agents.APIKey))
	return nil
}

func redact(v string) string {
	if v == "" {
		return "(unset)"
	}
	return "********"
}
