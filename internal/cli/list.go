package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list [entity]",
		Short: "List registered entities, or one entity's live facts",
		Args:  cobra.MaximumNArgs(1),
		Run:   runList,
	}
	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	st, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	if len(args) == 1 {
		rows, err := st.ListByEntity(cmd.Context(), args[0])
		if err != nil {
			exitErr("list", err)
		}
		b, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Println(string(b))
		return
	}

	entities, err := st.ListEntities(cmd.Context())
	if err != nil {
		exitErr("list", err)
	}
	b, _ := json.MarshalIndent(entities, "", "  ")
	fmt.Println(string(b))
}
