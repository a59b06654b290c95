package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "semantic-search [query]",
		Short: "Vector similarity search over stored facts",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSemanticSearch,
	}
	cmd.Flags().IntP("limit", "l", 5, "Max results")
	cmd.Flags().Float64P("threshold", "t", 0.5, "Minimum cosine similarity")
	RootCmd.AddCommand(cmd)
}

func runSemanticSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	query := strings.Join(args, " ")

	st, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	mem := newMemoryEngine(st)
	hits, err := mem.SemanticSearch(cmd.Context(), query, limit, threshold)
	if err != nil {
		exitErr("semantic-search", err)
	}
	if len(hits) == 0 {
		fmt.Println("[]")
		return
	}
	b, _ := json.MarshalIndent(hits, "", "  ")
	fmt.Println(string(b))
}
