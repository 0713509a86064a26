package inference

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// replayDir is where NaN/Inf replay records land, per spec.md §6's
// "Log/filesystem layout" (the sibling of pipeline.logRoot). A var rather
// than a const so tests can redirect it to a temp directory.
var replayDir = ".continuum/jtag/logs/prompt-replays"

// ReplayRecord is the artifact persisted whenever the decode loop gives up
// on a bad-logits or forward-failure condition it cannot recover from.
type ReplayRecord struct {
	PromptHash   string    `json:"prompt_hash"`
	PromptTokens int       `json:"prompt_tokens"`
	Timestamp    time.Time `json:"timestamp"`
	Reason       string    `json:"reason"`
}

// persistReplay writes a ReplayRecord to replayDir named by the timestamp
// it fired at, so every seed-test run that triggers a replay produces
// exactly one new file in the directory. Failures to write are logged by
// the caller's error return rather than panicking; a missing replay
// directory must never abort generation itself.
func persistReplay(prompt string, promptTokenCount int, reason string) error {
	if err := os.MkdirAll(replayDir, 0o755); err != nil {
		return fmt.Errorf("create replay dir: %w", err)
	}

	now := time.Now()
	sum := sha256.Sum256([]byte(prompt))
	record := ReplayRecord{
		PromptHash:   hex.EncodeToString(sum[:]),
		PromptTokens: promptTokenCount,
		Timestamp:    now,
		Reason:       reason,
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal replay record: %w", err)
	}

	name := fmt.Sprintf("%s_%03d", now.Format("20060102_150405"), now.Nanosecond()/1e6)
	path := filepath.Join(replayDir, name+".json")
	return os.WriteFile(path, data, 0o644)
}
