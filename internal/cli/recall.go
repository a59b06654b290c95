package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [prompt]",
		Short: "Compose the budget-weighted <lily-memory> payload for a prompt",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRecall,
	}
	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	prompt := strings.Join(args, " ")

	st, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	mem := newMemoryEngine(st)
	payload, err := mem.Retrieve(cmd.Context(), prompt)
	if err != nil {
		exitErr("recall", err)
	}
	if payload == "" {
		fmt.Println("(nothing to recall)")
		return
	}
	fmt.Println(payload)
}
