package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"promptcompiler/internal/cache"
	"promptcompiler/internal/config"
	"promptcompiler/internal/llm"
	"promptcompiler/internal/metrics"
	"promptcompiler/internal/server"
	promptapi "promptcompiler/pkg/promptcompiler"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			srvCfg := server.Config{
				Addr:            a.cfg.Server.Addr,
				ReadTimeout:     a.cfg.Server.ReadTimeout,
				WriteTimeout:    a.cfg.Server.WriteTimeout,
				ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
				Version:         version,
				Client:          client,
				Metrics:         metrics.New(),
				Logger:          a.logger,
			}
			if a.cfg.LLM.Enabled() {
				completer, err := a.newLLM()
				if err != nil {
					return err
				}
				srvCfg.LLM = completer
			} else {
				a.logger.Warn("no LLM api key configured, chat completions disabled")
			}
			if a.cfg.Cache.Enabled {
				rc, err := cache.New(cache.Config{TTL: a.cfg.Cache.TTL, Logger: a.logger})
				if err != nil {
					return err
				}
				defer rc.Close()
				srvCfg.Cache = rc
			}

			srv, err := server.New(srvCfg)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func newChatCmd(a *app) *cobra.Command {
	var (
		task  string
		steps int
		raw   bool
	)
	cmd := &cobra.Command{
		Use:   "chat PROMPT",
		Short: "Compile a prompt and send it to the configured LLM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.LLM.Enabled() {
				return llm.ErrNoAPIKey
			}
			completer, err := a.newLLM()
			if err != nil {
				return err
			}
			client, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			prompt := args[0]
			compiled := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
			var optimized promptapi.OptimizeResult
			if !raw {
				if task == "" {
					task = prompt
				}
				optimized, err = client.Optimize(cmd.Context(), promptapi.OptimizeRequest{Prompt: prompt, Task: task, MaxSteps: steps})
				if err != nil {
					return err
				}
				h := optimized.History
				if len(h.Steps) == 0 {
					return errors.New("optimization produced no steps")
				}
				compiled, err = llm.CompileMessages(h.FinalPrompt, h.Steps[len(h.Steps)-1].Analysis)
				if err != nil {
					return err
				}
			}

			resp, err := completer.Complete(cmd.Context(), compiled)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(struct {
					Compiled []llm.Message `json:"compiled"`
					Response llm.Response  `json:"response"`
				}{compiled, resp})
			}
			if !raw {
				a.printf("compiled: %s\n", compiled[len(compiled)-1].Content)
				a.printf("%s\n", strings.Repeat("-", 40))
			}
			a.printf("%s\n", resp.Content)
			a.logger.Debug("chat usage", "prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "task description (defaults to the prompt)")
	cmd.Flags().IntVar(&steps, "steps", 0, "optimization steps (0 uses the configured default)")
	cmd.Flags().BoolVar(&raw, "raw", false, "send the prompt without compiling it")
	return cmd
}

func (a *app) newLLM() (*llm.Client, error) {
	c := a.cfg.LLM
	return llm.New(llm.Config{
		APIKey:            c.APIKey,
		BaseURL:           c.BaseURL,
		Model:             c.Model,
		Temperature:       c.Temperature,
		MaxTokens:         c.MaxTokens,
		Timeout:           c.Timeout,
		RequestsPerSecond: c.RequestsPerSecond,
		Logger:            a.logger,
	})
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := a.cfg
			if cfg.LLM.APIKey != "" {
				cfg.LLM.APIKey = "<redacted>"
			}
			if err := config.Write(a.stdout, cfg); err != nil {
				return fmt.Errorf("show config: %w", err)
			}
			return nil
		},
	}
	cmd.AddCommand(show)
	return cmd
}
