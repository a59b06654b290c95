// Package cli implements the agent-memory CLI commands.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/openclaw/memory/internal/config"
	"github.com/openclaw/memory/internal/embedding"
	"github.com/openclaw/memory/internal/logging"
	"github.com/openclaw/memory/internal/memory"
	"github.com/openclaw/memory/internal/pipeline"
	"github.com/openclaw/memory/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dbPath    string
	sessionID string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "agent-memory",
	Short: "Pipeline and memory companion for an agent host",
	Long:  "A SQLite-backed memory and DAG pipeline engine for AI agents. Text in, text out, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $AGENT_MEMORY_DB or ~/.openclaw/memory/memory.db)")
	RootCmd.PersistentFlags().StringVar(&sessionID, "session", "cli", "Session id attributed to writes made from this invocation")
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("AGENT_MEMORY_DB"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".openclaw", "memory", "memory.db")
}

func openStore() (*store.Store, error) {
	return store.Open(getDBPath())
}

func newLogger() *zap.Logger {
	log, err := logging.New()
	if err != nil {
		return logging.Nop()
	}
	return log
}

func newEmbeddingService(st *store.Store) *embedding.Service {
	cfg := config.Default()
	return embedding.NewService(embedding.NewFromEnv(), st, cfg.EmbeddingModel)
}

func newMemoryEngine(st *store.Store) *memory.Engine {
	return memory.New(st, sessionID, config.Default(), newEmbeddingService(st), newLogger())
}

func newPipelineEngine(st *store.Store) *pipeline.Engine {
	return pipeline.New(st)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
