package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <entity> <key>",
		Short: "Retrieve one fact by entity and key",
		Args:  cobra.ExactArgs(2),
		Run:   runGet,
	}
	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	entity, key := args[0], args[1]

	st, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	d, err := st.GetByEntityKey(cmd.Context(), entity, key)
	if err != nil {
		exitErr("get", err)
	}
	if d == nil {
		exitErr("get", fmt.Errorf("no live fact for %s.%s", entity, key))
	}

	b, _ := json.MarshalIndent(d, "", "  ")
	fmt.Println(string(b))
}
