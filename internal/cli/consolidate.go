package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Collapse duplicate (entity, fact_key) groups and sweep orphaned vectors",
		Run:   runConsolidate,
	}
	RootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	st, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	mem := newMemoryEngine(st)
	res, err := mem.Consolidate(cmd.Context())
	if err != nil {
		exitErr("consolidate", err)
	}
	fmt.Printf("collapsed %d group(s), removed %d row(s), swept %d orphaned vector(s)\n",
		res.GroupsCollapsed, res.RowsRemoved, res.VectorsSwept)
}
