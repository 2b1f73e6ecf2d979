package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-ai/animus-go/internal/chat"
	"github.com/animus-ai/animus-go/internal/logging"
	"github.com/animus-ai/animus-go/internal/rpc"
)

var (
	// threads-specific flags
	loadedOnly bool
)

// threadsCmd represents the threads command
var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List threads known to the agent backend",
	Long: `Connect to the backend, list threads, and exit.

By default all threads are listed, following pagination.
Use --loaded to restrict the listing to threads currently loaded
in the backend.`,
	RunE: runThreads,
}

func init() {
	rootCmd.AddCommand(threadsCmd)
	threadsCmd.Flags().BoolVar(&loadedOnly, "loaded", false, "List only threads currently loaded in the backend")
}

func runThreads(cmd *cobra.Command, args []string) error {
	logger := logging.Chat()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var ctrl *chat.Controller
	bootstrapped := make(chan error, 1)
	client := rpc.NewClient(rpc.Config{
		Logger: logging.Transport(),
		OnConnect: func() {
			bootstrapped <- ctrl.HandleConnect(ctx)
		},
	})
	ctrl = chat.NewController(cfg, client, chat.WithLogger(logger))
	defer client.Close()

	if err := client.Connect(ctx, cfg.Server.URL); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.Server.URL, err)
	}
	select {
	case err := <-bootstrapped:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	threads, err := ctrl.RefreshThreads(ctx, loadedOnly)
	if err != nil {
		return err
	}
	if len(threads) == 0 {
		fmt.Println("no threads")
		return nil
	}
	for _, t := range threads {
		fmt.Printf("%s  %s\n", t.ID, chat.ThreadTitle(t))
	}
	return nil
}
