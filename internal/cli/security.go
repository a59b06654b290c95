package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "security-log",
		Short: "Show the most recent security events",
		Run:   runSecurityLog,
	}
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	RootCmd.AddCommand(cmd)
}

func runSecurityLog(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	st, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	events, err := st.RecentSecurityEvents(cmd.Context(), limit)
	if err != nil {
		exitErr("security-log", err)
	}
	if len(events) == 0 {
		fmt.Println("[]")
		return
	}
	b, _ := json.MarshalIndent(events, "", "  ")
	fmt.Println(string(b))
}
