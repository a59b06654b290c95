package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/openclaw/memory/internal/executor"
	"github.com/openclaw/memory/internal/scheduler"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler pass, or loop forever with --interval",
		Run:   runTick,
	}
	cmd.Flags().Duration("interval", 0, "Repeat the tick on this interval instead of running once")
	cmd.Flags().String("local-url", "http://localhost:11434", "Local executor base URL")
	cmd.Flags().String("remote-url", "", "Remote executor base URL (empty disables remote dispatch)")
	RootCmd.AddCommand(cmd)
}

func runTick(cmd *cobra.Command, args []string) {
	interval, _ := cmd.Flags().GetDuration("interval")
	localURL, _ := cmd.Flags().GetString("local-url")
	remoteURL, _ := cmd.Flags().GetString("remote-url")

	st, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	local := executor.NewLocalExecutor(localURL)
	var remote *executor.RemoteExecutor
	if remoteURL != "" {
		remote = executor.NewRemoteExecutor(remoteURL, os.Getenv("GEMINI_API_KEY"))
	}

	sched := scheduler.New(st, local, remote, newLogger())

	if interval <= 0 {
		if err := sched.Tick(cmd.Context()); err != nil {
			exitErr("tick", err)
		}
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	fmt.Printf("ticking every %s (ctrl-c to stop)\n", interval)
	for {
		select {
		case <-cmd.Context().Done():
			return
		case <-ticker.C:
			if err := sched.Tick(cmd.Context()); err != nil {
				fmt.Fprintf(os.Stderr, "tick error: %v\n", err)
			}
		}
	}
}
