package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(".env.example", []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("Successfully generated .env.example file")
	return nil
}

// envSection is one block of the generated file.
type envSection struct {
	title string
	notes []string
	flags []string
}

var envSections = []envSection{
	{
		title: "Spotify (Required)",
		notes: []string{
			"Get these from https://developer.spotify.com/dashboard",
			"The redirect URL defaults to http://<server-host>:<server-port>/callback",
		},
		flags: []string{"spotify-client-id", "spotify-client-secret", "spotify-redirect-url",
			"spotify-api-base-url", "spotify-requests-per-second", "backend-url"},
	},
	{
		title: "HTTP Server",
		flags: []string{"server-host", "server-port", "handoff-ttl-mins"},
	},
	{
		title: "Session Store",
		flags: []string{"store-path"},
	},
	{
		title: "Playback and Devices",
		notes: []string{"Delays are in milliseconds unless the name says otherwise"},
		flags: []string{"confirm-delay-ms", "settle-delay-ms", "device-poll-interval-secs",
			"playback-poll-interval-secs", "retry-attempts", "retry-backoff-ms"},
	},
	{
		title: "Device Switch Prompt",
		flags: []string{"escalation-threshold", "fallback-device-type"},
	},
	{
		title: "Application",
		flags: []string{"language", "health-check-timeout-secs"},
	},
	{
		title: "Logging",
		flags: []string{"log-level", "log-format"},
	},
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	content.WriteString("# =============================================================================\n")
	content.WriteString("# spinsync Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("#\n")
	content.WriteString("# Format: SPINSYNC_<SETTING>=value\n")
	content.WriteString("# CLI equivalent: --<setting>\n")
	content.WriteString("#\n\n")

	for _, section := range envSections {
		generateSection(&content, cmd, section)
	}

	generateTroubleshootingSection(&content)

	return content.String()
}

func generateSection(content *strings.Builder, cmd *cobra.Command, section envSection) {
	content.WriteString("# -----------------------------------------------------------------------------\n")
	fmt.Fprintf(content, "# %s\n", section.title)
	content.WriteString("# -----------------------------------------------------------------------------\n")
	for _, note := range section.notes {
		fmt.Fprintf(content, "# %s\n", note)
	}
	fmt.Fprintf(content, "# CLI: --%s\n", strings.Join(section.flags, ", --"))

	for _, name := range section.flags {
		f := cmd.PersistentFlags().Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(content, "%s=%s  # %s\n", flagToEnvVar(name), f.DefValue, f.Usage)
	}
	content.WriteString("\n")
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func generateTroubleshootingSection(content *strings.Builder) {
	content.WriteString("# =============================================================================\n")
	content.WriteString("# TROUBLESHOOTING\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("\n")
	content.WriteString("# Issue: \"Spotify authentication fails\"\n")
	content.WriteString("# - Verify redirect URL in the Spotify app matches SPINSYNC_SPOTIFY_REDIRECT_URL\n")
	content.WriteString("# - Check client ID and secret are correct\n")
	content.WriteString("\n")
	content.WriteString("# Issue: \"Commands fail with restriction errors\"\n")
	content.WriteString("# - Some devices refuse remote commands; accept the device switch prompt\n")
	content.WriteString("# - Playback control requires a Spotify Premium account\n")
	content.WriteString("# - Check logs with SPINSYNC_LOG_LEVEL=debug\n")
}
