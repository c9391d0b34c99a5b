package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"promptcompiler/internal/analyzer"
	"promptcompiler/internal/cache"
	"promptcompiler/internal/llm"
	"promptcompiler/internal/model"
	"promptcompiler/pkg/promptcompiler"
)

// chatRequest is the OpenAI chat completion body plus two optional fields
// steering the compilation of the last user message.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages" binding:"required,min=1"`
	Task     string        `json:"task"`
	MaxSteps int           `json:"max_steps"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      llm.Message `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatCompilation struct {
	OptimizationID string  `json:"optimization_id"`
	OriginalPrompt string  `json:"original_prompt"`
	CompiledPrompt string  `json:"compiled_prompt"`
	Effectiveness  float64 `json:"effectiveness"`
	Improvement    float64 `json:"improvement"`
	Cached         bool    `json:"cached"`
}

type chatResponse struct {
	ID          string          `json:"id"`
	Object      string          `json:"object"`
	Created     int64           `json:"created"`
	Model       string          `json:"model"`
	Choices     []chatChoice    `json:"choices"`
	Usage       llm.Usage       `json:"usage"`
	Compilation chatCompilation `json:"compilation"`
}

func (s *Server) chatCompletions(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	prompt, idx, ok := llm.LastUserContent(req.Messages)
	if !ok || strings.TrimSpace(prompt) == "" {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("%w: no user message to compile", analyzer.ErrInvalidInput))
		return
	}
	task := req.Task
	if task == "" {
		task = prompt
	}

	ctx := c.Request.Context()
	optimized, err := s.client.Optimize(ctx, promptcompiler.OptimizeRequest{
		Prompt:   prompt,
		Task:     task,
		MaxSteps: req.MaxSteps,
	})
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}
	history := optimized.History
	if len(history.Steps) == 0 {
		s.fail(c, http.StatusInternalServerError, errors.New("optimization produced no steps"))
		return
	}
	final := history.Steps[len(history.Steps)-1].Analysis
	s.metrics.ObserveAnalysis(string(model.KindOptimization), final.EffectivenessScore)
	s.metrics.ObserveConvergence(history.Converged)

	compiled, err := llm.CompileMessages(history.FinalPrompt, final)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	messages := rewriteMessages(req.Messages, idx, compiled)

	resp, cached, err := s.complete(ctx, messages)
	if err != nil {
		s.fail(c, statusFor(err), err)
		return
	}

	c.JSON(http.StatusOK, chatResponse{
		ID:      "chatcmpl-" + optimized.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []chatChoice{{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			FinishReason: resp.FinishReason,
		}},
		Usage: resp.Usage,
		Compilation: chatCompilation{
			OptimizationID: optimized.ID,
			OriginalPrompt: prompt,
			CompiledPrompt: history.FinalPrompt,
			Effectiveness:  final.EffectivenessScore,
			Improvement:    history.TotalImprovement,
			Cached:         cached,
		},
	})
}

// complete calls the LLM, going through the response cache when one is set.
func (s *Server) complete(ctx context.Context, messages []llm.Message) (llm.Response, bool, error) {
	load := func(ctx context.Context) ([]byte, error) {
		resp, err := s.llm.Complete(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errUpstream, err)
		}
		s.metrics.ObserveTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		return json.Marshal(resp)
	}

	var (
		raw    []byte
		cached bool
		err    error
	)
	if s.cache != nil {
		raw, cached, err = s.cache.GetOrLoad(ctx, cacheKey(s.llm.Model(), messages), load)
		if err == nil {
			s.metrics.ObserveCache(cached)
		}
	} else {
		raw, err = load(ctx)
	}
	if err != nil {
		return llm.Response{}, false, err
	}

	var resp llm.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return llm.Response{}, false, fmt.Errorf("decode cached response: %w", err)
	}
	return resp, cached, nil
}

// rewriteMessages puts the compiled system message first and swaps the last
// user message for the compiled prompt.
func rewriteMessages(original []llm.Message, userIdx int, compiled []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(original)+1)
	out = append(out, compiled[0])
	out = append(out, original[:userIdx]...)
	out = append(out, compiled[1])
	out = append(out, original[userIdx+1:]...)
	return out
}

func cacheKey(modelName string, messages []llm.Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Role+":"+m.Content)
	}
	return cache.Key(modelName, parts...)
}
