package cli

import (
	"encoding/json"
	"fmt"

	"github.com/openclaw/memory/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-TTL-class row counts and the database path",
		Run:   runStats,
	}
	RootCmd.AddCommand(cmd)
}

type statsReport struct {
	DBPath    string `json:"dbPath"`
	Active    int    `json:"active"`
	Stable    int    `json:"stable"`
	Permanent int    `json:"permanent"`
	Session   int    `json:"session"`
	Entities  int    `json:"entities"`
}

func runStats(cmd *cobra.Command, args []string) {
	st, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	report := statsReport{DBPath: st.Path()}

	for class, dst := range map[model.TTLClass]*int{
		model.TTLActive:    &report.Active,
		model.TTLStable:    &report.Stable,
		model.TTLPermanent: &report.Permanent,
		model.TTLSession:   &report.Session,
	} {
		n, err := st.CountLive(ctx, class)
		if err != nil {
			exitErr("stats", err)
		}
		*dst = n
	}

	entities, err := st.ListEntities(ctx)
	if err != nil {
		exitErr("stats", err)
	}
	report.Entities = len(entities)

	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(b))
}
