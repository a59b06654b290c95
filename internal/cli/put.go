package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put <entity> <key> [value]",
		Short: "Store a fact against an entity",
		Long:  "Store or update a fact. Value can be a positional arg or piped via stdin.",
		Args:  cobra.RangeArgs(2, 3),
		Run:   runPut,
	}
	cmd.Flags().String("ttl", "", "TTL class for a new row (permanent|stable|active|session, default active)")
	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	entity, key := args[0], args[1]

	var value string
	if len(args) == 3 {
		value = args[2]
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			value = string(b)
		}
	}
	if strings.TrimSpace(value) == "" {
		exitErr("put", fmt.Errorf("value is required (positional arg or stdin)"))
	}

	st, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	ttl, _ := cmd.Flags().GetString("ttl")

	mem := newMemoryEngine(st)
	d, err := mem.StoreFact(cmd.Context(), entity, key, strings.TrimSpace(value), ttl)
	if err != nil {
		exitErr("put", err)
	}

	b, _ := json.MarshalIndent(d, "", "  ")
	fmt.Println(string(b))
}
