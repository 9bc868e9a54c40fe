// cmd/server/commands.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Corphon/SceneChronicle/internal/app"
	"github.com/Corphon/SceneChronicle/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "scenechronicle",
	Short: "Multi-character roleplay conversation engine",
	Long: `SceneChronicle hosts roleplay scenarios with one or more characters.

Long conversations are compressed into tiered summaries, and scene
images are generated every few character replies.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			cfg.Server.Port = port
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("SceneChronicle listening on http://localhost:%s\n", cfg.Server.Port)
		return a.Serve(ctx)
	},
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the built-in characters and scenarios",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.LoadPresets()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tID\tNAME\tCHARACTERS")
		for _, c := range p.Characters {
			fmt.Fprintf(w, "character\t%s\t%s\t-\n", c.ID, c.Name)
		}
		for _, s := range p.Scenarios {
			fmt.Fprintf(w, "scenario\t%s\t%s\t%d\n", s.ID, s.Name, len(s.CharacterIDs))
		}
		return w.Flush()
	},
}

func init() {
	serveCmd.Flags().String("port", "", "listen port (overrides PORT)")

	chatCmd.Flags().String("scenario", "scen_eve_hangout", "scenario id to chat in")
	chatCmd.Flags().Bool("check", false, "test the LLM connection before starting")

	rootCmd.AddCommand(serveCmd, chatCmd, presetsCmd)
}
