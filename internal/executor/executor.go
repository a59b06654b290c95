// Package executor implements the two HTTP clients the scheduler dispatches
// ready steps to: a local inference server (Ollama-shaped generate API) and
// a remote Gemini-shaped generateContent API.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// outputCap truncates text surfaced in error messages, per spec.md §4.8.
const outputCap = 200

func truncate(s string) string {
	if len(s) <= outputCap {
		return s
	}
	return s[:outputCap] + "...[truncated]"
}

// Result is the outcome of one dispatch, matching the {success, output|error}
// shape advance() consumes.
type Result struct {
	Success bool
	Output  string
	Error   string
}

// LocalExecutor talks to a local Ollama-shaped /api/generate endpoint.
type LocalExecutor struct {
	baseURL string
	client  *http.Client
}

// NewLocalExecutor builds a LocalExecutor against baseURL (e.g.
// http://localhost:11434).
func NewLocalExecutor(baseURL string) *LocalExecutor {
	return &LocalExecutor{baseURL: baseURL, client: &http.Client{}}
}

type localGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options"`
}

type localGenerateResponse struct {
	Response string `json:"response"`
}

// Dispatch sends prompt to model and returns the generated text.
func (e *LocalExecutor) Dispatch(ctx context.Context, model, prompt string) Result {
	body, _ := json.Marshal(localGenerateRequest{
		Model: model, Prompt: prompt, Stream: false,
		Options: map[string]interface{}{"num_predict": 4096},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Result{Success: false, Error: truncate(err.Error())}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{Success: false, Error: truncate(fmt.Sprintf("local inference request failed: %v", err))}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return Result{Success: false, Error: truncate(fmt.Sprintf("local inference error %d: %s", resp.StatusCode, string(b)))}
	}

	var out localGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{Success: false, Error: truncate(fmt.Sprintf("decode local inference response: %v", err))}
	}
	return Result{Success: true, Output: out.Response}
}

// RemoteExecutor talks to a Gemini-shaped generateContent API.
type RemoteExecutor struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRemoteExecutor builds a RemoteExecutor. baseURL defaults to the
// public Gemini endpoint when empty.
func NewRemoteExecutor(baseURL, apiKey string) *RemoteExecutor {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	return &RemoteExecutor{baseURL: baseURL, apiKey: apiKey, client: &http.Client{}}
}

type remoteContentPart struct {
	Text string `json:"text"`
}
type remoteContent struct {
	Parts []remoteContentPart `json:"parts"`
}
type remoteGenerateRequest struct {
	Contents []remoteContent `json:"contents"`
}
type remoteCandidate struct {
	Content remoteContent `json:"content"`
}
type remoteGenerateResponse struct {
	Candidates []remoteCandidate `json:"candidates"`
}

// Dispatch sends prompt to the remote model and returns its first
// candidate's concatenated text.
func (e *RemoteExecutor) Dispatch(ctx context.Context, model, prompt string) Result {
	body, _ := json.Marshal(remoteGenerateRequest{
		Contents: []remoteContent{{Parts: []remoteContentPart{{Text: prompt}}}},
	})

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", e.baseURL, model, e.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Success: false, Error: truncate(err.Error())}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{Success: false, Error: truncate(fmt.Sprintf("remote inference request failed: %v", err))}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return Result{Success: false, Error: truncate(fmt.Sprintf("remote inference error %d: %s", resp.StatusCode, string(b)))}
	}

	var out remoteGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{Success: false, Error: truncate(fmt.Sprintf("decode remote inference response: %v", err))}
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return Result{Success: false, Error: "remote inference returned no candidates"}
	}

	var text string
	for _, p := range out.Candidates[0].Content.Parts {
		text += p.Text
	}
	return Result{Success: true, Output: text}
}

// DefaultLocalModel is used when a step's tier/executor doesn't name one.
const DefaultLocalModel = "deepseek-r1"

// Route picks local vs remote and a model name from a step's
// tier/executor fields, per spec.md §4.8's routing rule.
func Route(tier, executor string) (useRemote bool, model string) {
	switch {
	case tier == "gemini-flash" || hasPrefix(tier, "gemini") || hasPrefix(executor, "gemini"):
		m := tier
		if m == "" || m == "gemini-flash" {
			m = "gemini-1.5-flash"
		}
		return true, m
	case executor == "local" || hasPrefix(tier, "deepseek") || hasPrefix(tier, "qwen"):
		if tier != "" {
			return false, tier
		}
		return false, DefaultLocalModel
	default:
		return false, DefaultLocalModel
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
