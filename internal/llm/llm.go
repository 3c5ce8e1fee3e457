package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ExtractedTask holds a single task extracted from markdown content.
type ExtractedTask struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Body        string `json:"body"` // raw source text for this specific task
}

// Client wraps the Anthropic API for task extraction and enrichment.
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

func quoted(words []string) string {
	q := make([]string, len(words))
	for i, w := range words {
		q[i] = `"` + w + `"`
	}
	return strings.Join(q, ", ")
}

// buildPrompt constructs the system and user prompts for task extraction.
// priorities are the catalog's short keywords, most urgent first.
func buildPrompt(content string, priorities []string) (system string, user string) {
	system = `You extract structured tasks from markdown content for a task tracker. Return ONLY a JSON array of objects with these fields:
- "title": concise task title
- "description": the task description in markdown (can be empty string if the title is self-explanatory)
- "priority": one of ` + quoted(priorities) + `
- "body": the exact original source text from the input that relates to this specific task (preserve formatting, include any sub-bullets, details, or context lines that belong to this task)

Rules:
- Each numbered/bulleted item is one task
- Pick the priority from the wording; when nothing suggests urgency use "normal" if it is allowed, otherwise the middle value
- The "body" field must contain only the relevant portion of the original text for that task, not the entire document
- For sub-tasks, include the parent item's text in the body before the sub-task text
- Never create placeholder tasks like "no tasks specified" or "N/A"
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Extract tasks from this markdown:\n\n")
	sb.WriteString(content)
	user = sb.String()
	return
}

// ExtractTasks sends markdown content to the LLM and returns structured tasks.
func (c *Client) ExtractTasks(ctx context.Context, content string, priorities []string) ([]ExtractedTask, error) {
	systemPrompt, userPrompt := buildPrompt(content, priorities)

	text, err := c.complete(ctx, systemPrompt, userPrompt, 4096)
	if err != nil {
		return nil, err
	}

	var tasks []ExtractedTask
	if err := json.Unmarshal([]byte(text), &tasks); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	return tasks, nil
}

// EnrichedTask holds the LLM-generated enrichment fields for a task.
type EnrichedTask struct {
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// buildEnrichPrompt constructs the system and user prompts for task enrichment.
func buildEnrichPrompt(title, description string, priorities []string) (system string, user string) {
	system = `You enrich tasks in a task tracker. Given a task's title and optional description, return a JSON object with exactly two fields:

- "description": A markdown description of the task: one short summary paragraph, then a "Acceptance criteria" list. If a description is already provided, keep its facts and improve it for clarity.
- "priority": the suggested priority, one of ` + quoted(priorities) + `

Rules:
- Return valid JSON only, no markdown fencing or explanation
- Do not invent requirements that the title and description don't support
- If the description is empty, infer as much as possible from the title alone`

	var sb strings.Builder
	sb.WriteString("Task title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	if description != "" {
		sb.WriteString("\nExisting description:\n")
		sb.WriteString(description)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// EnrichTask sends task data to the LLM and returns a suggested description
// and priority.
func (c *Client) EnrichTask(ctx context.Context, title, description string, priorities []string) (*EnrichedTask, error) {
	systemPrompt, userPrompt := buildEnrichPrompt(title, description, priorities)

	text, err := c.complete(ctx, systemPrompt, userPrompt, 2048)
	if err != nil {
		return nil, err
	}

	var enriched EnrichedTask
	if err := json.Unmarshal([]byte(text), &enriched); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	return &enriched, nil
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int64) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
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

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return stripFence(text), nil
}

// stripFence removes a surrounding markdown code fence, if any.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}
