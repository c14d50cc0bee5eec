package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/markb/filepulse/internal/client"
	"github.com/markb/filepulse/internal/log"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <fileID>",
	Short: "Watch a file's live viewers",
	Long: `Connects to a presence server, starts viewing the given file, and prints
the viewer list every time it changes. Reconnects automatically if the
connection drops.

Examples:
  filepulse watch file-123 --token $(filepulse token --user me)
  FILEPULSE_TOKEN=... filepulse watch file-123 --url ws://files.example.com/presence/v1/websocket`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fileID := args[0]
		url, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			token = os.Getenv("FILEPULSE_TOKEN")
		}
		if token == "" {
			return fmt.Errorf("--token or FILEPULSE_TOKEN is required")
		}

		log.Init(log.DefaultConfig())

		cfg := client.DefaultConfig()
		cfg.URL = url
		cfg.Token = token
		cfg.OnEvent = func(event client.Event) {
			update, ok := event.(client.ViewersSet)
			if !ok || update.FileID != fileID {
				return
			}
			if len(update.Viewers) == 0 {
				fmt.Println("nobody is viewing")
				return
			}
			names := make([]string, 0, len(update.Viewers))
			for _, v := range update.Viewers {
				name := v.Name
				if name == "" {
					name = v.ID
				}
				names = append(names, name)
			}
			fmt.Printf("viewing now: %s\n", strings.Join(names, ", "))
		}

		c := client.New(cfg)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := c.StartViewing(fileID); err != nil {
			return err
		}
		return c.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("url", "ws://localhost:8080/presence/v1/websocket", "Presence WebSocket endpoint")
	watchCmd.Flags().String("token", "", "Viewer credential")
}
