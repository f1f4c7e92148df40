// Package llm wraps the Anthropic API for task execution and project
// analysis.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/devaihq/devai/internal/models"
)

// maxAnalyzeFiles bounds how many project files are inlined into the
// analysis prompt; analyzeFileLimit bounds each file's contribution.
const (
	maxAnalyzeFiles  = 25
	analyzeFileLimit = 4000
)

// Generator is the AI collaborator boundary. devai assumes nothing about
// the returned text beyond "may contain file blocks"; parsing happens
// downstream.
type Generator interface {
	// ExecuteTask asks the model to implement a task and returns the raw
	// response text.
	ExecuteTask(ctx context.Context, project *models.Project, task *models.Task) (string, error)

	// AnalyzeProject asks the model for a short architectural summary of
	// the project's files.
	AnalyzeProject(ctx context.Context, project *models.Project, files []models.ProjectFile) (string, error)
}

// Client implements Generator against the Anthropic API.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildExecutePrompt constructs the system and user prompts for task
// execution. The response format instruction must stay in sync with what
// the parser package accepts.
func buildExecutePrompt(project *models.Project, task *models.Task) (system string, user string) {
	var sys strings.Builder
	sys.WriteString("You are an expert ")
	if len(project.TechStack) > 0 {
		sys.WriteString(strings.Join(project.TechStack, ", "))
		sys.WriteString(" ")
	}
	sys.WriteString("developer. You are working on the project: ")
	sys.WriteString(project.Name)
	sys.WriteString("\n")
	if project.Description != "" {
		sys.WriteString("\nProject description: ")
		sys.WriteString(project.Description)
		sys.WriteString("\n")
	}
	if project.Summary != "" {
		sys.WriteString("\nProject summary: ")
		sys.WriteString(project.Summary)
		sys.WriteString("\n")
	}
	sys.WriteString(`
Format every code change as a fenced block whose info string is the file path:

` + "```" + `path/to/file.ext
// full file content here
` + "```" + `

Rules:
- Emit the complete file content in each block, never a fragment or diff
- Default is creating the file; prefix the path with "update:" to overwrite an existing file or "delete:" to remove one (a delete block has an empty body)
- Paths are relative to the repository root and use forward slashes
- Do not wrap the blocks in any outer fence and do not add blocks for files you are not changing`)
	system = sys.String()

	var sb strings.Builder
	sb.WriteString("Task: ")
	sb.WriteString(task.Title)
	sb.WriteString("\n")
	if task.Description != "" {
		sb.WriteString("\nDescription: ")
		sb.WriteString(task.Description)
		sb.WriteString("\n")
	}
	sb.WriteString("\nPlease implement this task and provide the complete solution.")
	user = sb.String()
	return
}

// ExecuteTask sends the task to the LLM and returns the raw response text.
func (c *Client) ExecuteTask(ctx context.Context, project *models.Project, task *models.Task) (string, error) {
	systemPrompt, userPrompt := buildExecutePrompt(project, task)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 8192,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	text := messageText(msg)
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return text, nil
}

// buildAnalyzePrompt constructs the system and user prompts for project
// analysis. Files beyond maxAnalyzeFiles appear in the path listing only.
func buildAnalyzePrompt(project *models.Project, files []models.ProjectFile) (system string, user string) {
	system = `You are an expert software architect. Analyze the provided codebase and give a brief summary covering:
- What the project does
- The main technologies and frameworks in use
- The overall architecture and key components

Keep the summary under 200 words and write it as plain prose, no headings or lists.`

	var sb strings.Builder
	sb.WriteString("Project: ")
	sb.WriteString(project.Name)
	sb.WriteString("\n\nFile listing:\n")
	for _, f := range files {
		sb.WriteString(f.Path)
		sb.WriteString("\n")
	}
	sb.WriteString("\nKey file contents:\n")
	for i, f := range files {
		if i >= maxAnalyzeFiles {
			break
		}
		content := f.Content
		if len(content) > analyzeFileLimit {
			content = content[:analyzeFileLimit]
		}
		sb.WriteString("\n--- ")
		sb.WriteString(f.Path)
		sb.WriteString(" ---\n")
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// AnalyzeProject sends the project files to the LLM and returns a summary.
func (c *Client) AnalyzeProject(ctx context.Context, project *models.Project, files []models.ProjectFile) (string, error) {
	systemPrompt, userPrompt := buildAnalyzePrompt(project, files)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	text := strings.TrimSpace(messageText(msg))
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return text, nil
}

// messageText returns the first text block of a response.
func messageText(msg *anthropic.Message) string {
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}
