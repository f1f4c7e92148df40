package cmd

import (
	"context"
	"os"

	"github.com/spf13/viper"

	"github.com/devaihq/devai/internal/executor"
	"github.com/devaihq/devai/internal/github"
	"github.com/devaihq/devai/internal/llm"
	"github.com/devaihq/devai/internal/models"
	"github.com/devaihq/devai/internal/store"
)

// newLLMClient creates an LLM client from config/env, or returns nil if no API key is configured.
// A model saved in settings wins over the configured default.
func newLLMClient(settings *models.Settings) *llm.Client {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}

	model := viper.GetString("anthropic.model")
	if settings != nil && settings.AIModel != "" {
		model = settings.AIModel
	}
	return llm.NewClient(apiKey, model)
}

// githubToken returns the GitHub token to use, preferring one saved in settings over config/env.
func githubToken(settings *models.Settings) string {
	if settings != nil && settings.GitHubToken != "" {
		return settings.GitHubToken
	}
	if tok := viper.GetString("github.token"); tok != "" {
		return tok
	}
	return os.Getenv("GITHUB_TOKEN")
}

// buildDeps assembles the task runner and GitHub gateway from saved settings
// plus config/env. Either may be nil when the matching credential is missing;
// callers decide whether that is fatal.
func buildDeps(ctx context.Context, s store.Store) (*executor.Executor, github.Gateway, error) {
	settings, err := s.GetSettings(ctx)
	if err != nil {
		return nil, nil, err
	}

	var gw github.Gateway
	if tok := githubToken(settings); tok != "" {
		gw = github.NewClient(tok)
	}

	var runner *executor.Executor
	if client := newLLMClient(settings); client != nil {
		runner = executor.New(s, client, gw, executor.DefaultConfig())
	}
	return runner, gw, nil
}
