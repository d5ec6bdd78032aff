package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"plugin-jobs/internal/config"
	"plugin-jobs/internal/plugin"
	"plugin-jobs/internal/registry"
)

type pluginSummary struct {
	Name     string            `json:"name"`
	Command  string            `json:"command"`
	Kind     config.PluginKind `json:"kind"`
	Enabled  bool              `json:"enabled"`
	Program  string            `json:"program,omitempty"`
	Chunked  bool              `json:"chunked,omitempty"`
	Cooldown int               `json:"cooldown_seconds,omitempty"`
	Options  []string          `json:"options,omitempty"`
}

func summarizePlugin(p config.Plugin) pluginSummary {
	s := pluginSummary{
		Name:     p.Name,
		Command:  p.Command.Name,
		Kind:     p.Kind,
		Enabled:  p.IsEnabled(),
		Program:  p.Execution.Command,
		Chunked:  p.Execution.Chunking.Enabled,
		Cooldown: p.Security.CooldownSeconds,
	}
	if s.Chunked {
		s.Program = p.Execution.Chunking.FileCommand
	}
	for _, opt := range p.Command.Options {
		name := opt.Name
		if opt.Required {
			name += "*"
		}
		s.Options = append(s.Options, name)
	}
	return s
}

func newPluginsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect plugin definitions",
	}

	var jsonOut bool
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the plugins file against the program allow-list",
		Long: `Parse and validate the plugins file, then check that every program an
enabled plugin can spawn is on the allow-list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plugins, err := config.LoadPlugins(a.settings.PluginsFile)
			if err != nil {
				return err
			}
			ex := newExecutor(a.settings, nil, a.log)
			if _, err := plugin.NewManager(plugins, registry.New(), ex, nil); err != nil {
				return err
			}
			if jsonOut {
				summaries := make([]pluginSummary, 0, len(plugins))
				for _, p := range plugins {
					summaries = append(summaries, summarizePlugin(p))
				}
				return printJSON(a.out, map[string]any{"ok": true, "plugins": summaries})
			}
			fmt.Fprintf(a.out, "plugins: %d valid (%s)\n", len(plugins), a.settings.PluginsFile)
			return nil
		},
	}
	validate.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")

	var listJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List configured plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plugins, err := config.LoadPlugins(a.settings.PluginsFile)
			if err != nil {
				return err
			}
			summaries := make([]pluginSummary, 0, len(plugins))
			for _, p := range plugins {
				summaries = append(summaries, summarizePlugin(p))
			}
			if listJSON {
				return printJSON(a.out, summaries)
			}
			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "COMMAND\tKIND\tENABLED\tPROGRAM\tOPTIONS")
			for _, s := range summaries {
				fmt.Fprintf(tw, "/%s\t%s\t%s\t%s\t%s\n", s.Command, s.Kind, yesNo(s.Enabled), defaultIfEmpty(s.Program, "-"), strings.Join(s.Options, " "))
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&listJSON, "json", false, "print JSON output")

	cmd.AddCommand(validate, list)
	return cmd
}
