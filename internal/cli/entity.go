package cli

import (
	"fmt"

	"github.com/openclaw/memory/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "add-entity <name>",
		Short: "Register a new entity base for fact acceptance",
		Args:  cobra.ExactArgs(1),
		Run:   runAddEntity,
	}
	RootCmd.AddCommand(cmd)
}

func runAddEntity(cmd *cobra.Command, args []string) {
	name := args[0]

	st, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	if err := st.UpsertEntity(cmd.Context(), model.Entity{Name: name, DisplayName: name, Source: "cli"}); err != nil {
		exitErr("add-entity", err)
	}
	fmt.Printf("registered entity %q\n", name)
}
