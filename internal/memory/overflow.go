package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// SessionEntry is one row of the sessions manifest the host maintains
// alongside the store.
type SessionEntry struct {
	SessionFile   string `json:"sessionFile,omitempty"`
	ContextTokens int    `json:"contextTokens,omitempty"`
}

type sessionsManifest struct {
	Sessions []SessionEntry `json:"sessions"`
}

// GuardSessionOverflow reads the sessions manifest at manifestPath and, for
// every entry naming a session file whose estimated token count exceeds
// threshold × cap, renames the session file with an overflow suffix and
// strips the volatile fields from its manifest entry. It is meant to run
// once at service start.
func (e *Engine) GuardSessionOverflow(manifestPath string) error {
	raw, err := os.ReadFile(manifestPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var manifest sessionsManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return fmt.Errorf("parse sessions manifest: %w", err)
	}

	limit := e.cfg.SessionOverflowThreshold * float64(e.cfg.ContextTokenCap)
	changed := false

	for i, entry := range manifest.Sessions {
		if entry.SessionFile == "" || entry.ContextTokens == 0 {
			continue
		}
		info, err := os.Stat(entry.SessionFile)
		if err != nil {
			continue
		}
		estimate := float64(info.Size()) / 4
		if estimate <= limit {
			continue
		}

		suffix := "overflow-" + time.Now().UTC().Format(time.RFC3339) + ".bak"
		renamed := entry.SessionFile + "." + suffix
		if err := os.Rename(entry.SessionFile, renamed); err != nil {
			return err
		}

		manifest.Sessions[i] = SessionEntry{}
		changed = true
		e.log.Info("session overflow: renamed and cleared manifest entry", zap.String("from", entry.SessionFile), zap.String("to", renamed))
	}

	if !changed {
		return nil
	}
	out, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(manifestPath, out, 0o644)
}
