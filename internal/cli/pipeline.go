package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/openclaw/memory/internal/model"
	"github.com/openclaw/memory/internal/pipeline"
	"github.com/openclaw/memory/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	pipelineCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Create and drive DAG pipelines",
	}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a pipeline from a JSON step list",
		Long:  "Create a pipeline. Step definitions are read as a JSON array from --steps or stdin, shaped like [{\"name\":\"build\"},{\"name\":\"deploy\",\"dependsOn\":[\"build\"]}].",
		Args:  cobra.ExactArgs(1),
		Run:   runPipelineCreate,
	}
	createCmd.Flags().StringP("creator", "c", "cli", "Creator label")
	createCmd.Flags().String("trigger-msg", "", "Trigger message recorded with the pipeline")
	createCmd.Flags().String("config", "", "Opaque JSON config blob")
	createCmd.Flags().String("steps", "", "JSON step array (default: read from stdin)")

	startCmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start a pending pipeline",
		Args:  cobra.ExactArgs(1),
		Run:   runPipelineStart,
	}

	statusCmd := &cobra.Command{
		Use:   "status [id]",
		Short: "Show one pipeline's snapshot, or every non-terminal pipeline",
		Args:  cobra.MaximumNArgs(1),
		Run:   runPipelineStatus,
	}

	advanceCmd := &cobra.Command{
		Use:   "advance <stepId>",
		Short: "Record a dispatched step's outcome",
		Args:  cobra.ExactArgs(1),
		Run:   runPipelineAdvance,
	}
	advanceCmd.Flags().Bool("fail", false, "Mark the step failed instead of succeeded")
	advanceCmd.Flags().String("output", "", "Step output on success")
	advanceCmd.Flags().String("error", "", "Error message on failure")

	cancelCmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a non-terminal pipeline",
		Args:  cobra.ExactArgs(1),
		Run:   runPipelineCancel,
	}

	scheduleCmd := &cobra.Command{
		Use:   "schedule <id> <cron>",
		Short: "Attach a recurring trigger to a pipeline",
		Args:  cobra.ExactArgs(2),
		Run:   runPipelineSchedule,
	}
	scheduleCmd.Flags().String("tz", "UTC", "IANA timezone for the cron fields")

	pipelineCmd.AddCommand(createCmd, startCmd, statusCmd, advanceCmd, cancelCmd, scheduleCmd)
	RootCmd.AddCommand(pipelineCmd)
}

type cliStepInput struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Tier       string            `json:"tier"`
	Executor   string            `json:"executor"`
	PromptTmpl string            `json:"promptTmpl"`
	MaxRetries int               `json:"maxRetries"`
	DependsOn  []json.RawMessage `json:"dependsOn"`
}

type cliDependency struct {
	Step string `json:"step"`
	When struct {
		Kind  string `json:"kind"`
		Value string `json:"value"`
	} `json:"when"`
}

func runPipelineCreate(cmd *cobra.Command, args []string) {
	name := args[0]
	creator, _ := cmd.Flags().GetString("creator")
	triggerMsg, _ := cmd.Flags().GetString("trigger-msg")
	cfg, _ := cmd.Flags().GetString("config")
	rawSteps, _ := cmd.Flags().GetString("steps")

	if rawSteps == "" {
		b, _ := readStdinIfPresent()
		rawSteps = b
	}
	if strings.TrimSpace(rawSteps) == "" {
		exitErr("pipeline create", fmt.Errorf("--steps or piped stdin JSON is required"))
	}

	var cliSteps []cliStepInput
	if err := json.Unmarshal([]byte(rawSteps), &cliSteps); err != nil {
		exitErr("pipeline create", fmt.Errorf("invalid step JSON: %w", err))
	}

	in := pipeline.CreateInput{Name: name, Creator: creator, TriggerMsg: triggerMsg, Config: cfg}
	for _, s := range cliSteps {
		step := pipeline.StepInput{
			Name: s.Name, Type: model.StepType(s.Type), Tier: s.Tier,
			Executor: s.Executor, PromptTmpl: s.PromptTmpl, MaxRetries: s.MaxRetries,
		}
		for _, raw := range s.DependsOn {
			dep, err := parseCLIDependency(raw)
			if err != nil {
				exitErr("pipeline create", err)
			}
			step.DependsOn = append(step.DependsOn, dep)
		}
		in.Steps = append(in.Steps, step)
	}

	st, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	id, err := newPipelineEngine(st).Create(cmd.Context(), in)
	if err != nil {
		exitErr("pipeline create", err)
	}
	fmt.Println(id)
}

func readStdinIfPresent() (string, error) {
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) != 0 {
		return "", nil
	}
	b, err := io.ReadAll(os.Stdin)
	return string(b), err
}

func runPipelineStart(cmd *cobra.Command, args []string) {
	st, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	if err := newPipelineEngine(st).Start(cmd.Context(), args[0]); err != nil {
		exitErr("pipeline start", err)
	}
	fmt.Println("started")
}

func runPipelineStatus(cmd *cobra.Command, args []string) {
	st, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	eng := newPipelineEngine(st)
	if len(args) == 1 {
		snap, err := eng.Status(cmd.Context(), args[0])
		if err != nil {
			exitErr("pipeline status", err)
		}
		if snap == nil {
			exitErr("pipeline status", fmt.Errorf("no pipeline with id %s", args[0]))
		}
		b, _ := json.MarshalIndent(snap, "", "  ")
		fmt.Println(string(b))
		return
	}

	all, err := eng.StatusAll(cmd.Context())
	if err != nil {
		exitErr("pipeline status", err)
	}
	b, _ := json.MarshalIndent(all, "", "  ")
	fmt.Println(string(b))
}

func runPipelineAdvance(cmd *cobra.Command, args []string) {
	fail, _ := cmd.Flags().GetBool("fail")
	output, _ := cmd.Flags().GetString("output")
	errMsg, _ := cmd.Flags().GetString("error")

	st, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	res, err := newPipelineEngine(st).Advance(cmd.Context(), args[0], store.AdvanceStepParams{
		Success: !fail, Output: output, Error: errMsg,
	})
	if err != nil {
		exitErr("pipeline advance", err)
	}
	b, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(b))
}

func runPipelineCancel(cmd *cobra.Command, args []string) {
	st, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	if err := newPipelineEngine(st).Cancel(cmd.Context(), args[0]); err != nil {
		exitErr("pipeline cancel", err)
	}
	fmt.Println("cancelled")
}

func runPipelineSchedule(cmd *cobra.Command, args []string) {
	tz, _ := cmd.Flags().GetString("tz")

	st, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	trig, err := newPipelineEngine(st).Schedule(cmd.Context(), args[0], args[1], tz)
	if err != nil {
		exitErr("pipeline schedule", err)
	}
	b, _ := json.MarshalIndent(trig, "", "  ")
	fmt.Println(string(b))
}

func parseCLIDependency(raw json.RawMessage) (pipeline.Dependency, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return pipeline.Dependency{Step: name}, nil
	}
	var dep cliDependency
	if err := json.Unmarshal(raw, &dep); err != nil {
		return pipeline.Dependency{}, fmt.Errorf("invalid dependsOn entry: %w", err)
	}
	cond := model.Condition{Kind: model.ConditionKind(dep.When.Kind), Value: dep.When.Value}
	if cond.Kind == "" {
		cond.Kind = model.ConditionUnconditional
	}
	return pipeline.Dependency{Step: dep.Step, Condition: cond}, nil
}
