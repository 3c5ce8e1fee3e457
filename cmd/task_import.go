package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/forge/internal/api"
	"github.com/joescharf/forge/internal/editor"
	"github.com/joescharf/forge/internal/llm"
	"github.com/joescharf/forge/internal/output"
)

var importNoLLM bool

// taskExtractor turns free-form markdown into tasks.
type taskExtractor interface {
	ExtractTasks(ctx context.Context, content string, priorities []string) ([]llm.ExtractedTask, error)
}

var taskImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import tasks from a markdown file",
	Long: `Import tasks from a markdown file. Each numbered or bulleted item becomes
a task. By default an LLM extracts titles, descriptions and priorities; use
--no-llm for a plain keyword-based parse. Use "-" to read stdin.

Requires ANTHROPIC_API_KEY environment variable or anthropic.api_key in config
unless --no-llm is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var ex taskExtractor
		if c := newLLMClient(); c != nil {
			ex = c
		}
		return taskImportRun(args[0], ex)
	},
}

var taskEnrichCmd = &cobra.Command{
	Use:   "enrich <task>",
	Short: "Rewrite a task's description and priority with an LLM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskEnrichRun(args[0], taskEnricher())
	},
}

func init() {
	taskImportCmd.Flags().BoolVar(&importNoLLM, "no-llm", false, "Parse list items without calling the LLM")
	taskCmd.AddCommand(taskImportCmd)
	taskCmd.AddCommand(taskEnrichCmd)
}

func taskImportRun(file string, ex taskExtractor) error {
	data, err := readInput(file)
	if err != nil {
		return err
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("file is empty: %s", file)
	}

	ts, err := openTaskSession()
	if err != nil {
		return err
	}
	ctx := context.Background()
	catalog := ts.editor.Catalog()

	var extracted []llm.ExtractedTask
	if importNoLLM {
		extracted = parseMarkdownTasks(content)
	} else {
		if ex == nil {
			return fmt.Errorf("ANTHROPIC_API_KEY not set (set env var or anthropic.api_key in config, or use --no-llm)")
		}
		ui.Info("Extracting tasks with LLM (%s)...", viper.GetString("anthropic.model"))
		extracted, err = ex.ExtractTasks(ctx, content, catalog.PriorityKeywords())
		if err != nil {
			return fmt.Errorf("extract tasks: %w", err)
		}
	}

	if len(extracted) == 0 {
		ui.Info("No tasks found in file.")
		return nil
	}

	table := ui.Table([]string{"#", "Title", "Priority"})
	for i, e := range extracted {
		_ = table.Append([]string{fmt.Sprintf("%d", i+1), e.Title, e.Priority})
	}
	_ = table.Render()

	if dryRun {
		ui.DryRunMsg("Would create %d tasks", len(extracted))
		return nil
	}

	app := taskApplication()
	created, skipped := 0, 0
	for _, e := range extracted {
		if strings.TrimSpace(e.Title) == "" {
			skipped++
			continue
		}
		xs := []editor.Transaction{editor.SetTitle(e.Title)}
		desc := e.Description
		if desc == "" {
			desc = e.Body
		}
		if desc != "" && desc != e.Title {
			xs = append(xs, editor.SetDescription(desc))
		}
		if p, ok := catalog.PriorityByKeyword(e.Priority); ok {
			xs = append(xs, editor.SetPriority(p))
		} else if e.Priority != "" {
			ui.VerboseLog("Unknown priority %q for %q; using default", e.Priority, e.Title)
		}
		task, _, err := ts.editor.Create(ctx, ts.actor, app, xs)
		if err != nil {
			ui.Warning("Failed to create task %q: %v", e.Title, err)
			skipped++
			continue
		}
		ui.VerboseLog("Created %s: %s", task.Monogram(), task.Title)
		created++
	}

	ui.Success("Created %d tasks", created)
	if skipped > 0 {
		ui.Warning("Skipped %d tasks", skipped)
	}
	return nil
}

func taskEnrichRun(ref string, en api.Enricher) error {
	if en == nil {
		return fmt.Errorf("ANTHROPIC_API_KEY not set (set env var or anthropic.api_key in config)")
	}
	ts, err := openTaskSession()
	if err != nil {
		return err
	}
	ctx := context.Background()
	catalog := ts.editor.Catalog()

	task, err := ts.find(ctx, ref)
	if err != nil {
		return err
	}

	ui.Info("Enriching %s with LLM...", task.Monogram())
	enriched, err := en.EnrichTask(ctx, task.Title, task.Description, catalog.PriorityKeywords())
	if err != nil {
		return fmt.Errorf("enrich %s: %w", task.Monogram(), err)
	}

	var xs []editor.Transaction
	if enriched.Description != "" {
		xs = append(xs, editor.SetDescription(enriched.Description))
	}
	if p, ok := catalog.PriorityByKeyword(enriched.Priority); ok {
		xs = append(xs, editor.SetPriority(p))
	} else if enriched.Priority != "" {
		ui.Warning("Ignoring unknown priority %q", enriched.Priority)
	}

	if dryRun {
		ui.DryRunMsg("Would set priority %q and description:", enriched.Priority)
		fmt.Fprint(ui.Out, renderMarkdown(enriched.Description))
		return nil
	}
	if len(xs) == 0 {
		ui.Info("Nothing to change on %s", task.Monogram())
		return nil
	}

	if _, err := ts.editor.Apply(ctx, ts.actor, task, xs); err != nil {
		return fmt.Errorf("enrich %s: %w", task.Monogram(), err)
	}
	ui.Success("Enriched %s", output.Cyan(task.Monogram()))
	return nil
}

// parseSubTaskNumber checks if a line starts with a sub-item number like "1.1" or "2.3."
// Returns the title text and true if it's a sub-item, or empty and false otherwise.
func parseSubTaskNumber(line string) (title string, ok bool) {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(line) || line[i] != '.' {
		return "", false
	}
	i++
	start := i
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == start {
		return "", false // "1. text" is a top-level item
	}
	if i < len(line) && line[i] == '.' {
		i++
	}
	if i >= len(line) || line[i] != ' ' {
		return "", false
	}
	title = strings.TrimSpace(line[i:])
	if title == "" {
		return "", false
	}
	return title, true
}

// parseMarkdownTasks extracts numbered and bulleted items. Sub-items carry
// their parent line in Body.
func parseMarkdownTasks(content string) []llm.ExtractedTask {
	var tasks []llm.ExtractedTask
	lastParentLine := ""

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, "#") {
			lastParentLine = ""
			continue
		}

		if subTitle, ok := parseSubTaskNumber(line); ok {
			body := line
			if lastParentLine != "" {
				body = lastParentLine + "\n" + line
			}
			tasks = append(tasks, llm.ExtractedTask{
				Title:    subTitle,
				Priority: classifyTaskPriority(subTitle),
				Body:     body,
			})
			continue
		}

		title := ""
		if len(line) > 2 {
			for i, c := range line {
				if c == '.' && i > 0 && i < 4 {
					if rest := strings.TrimSpace(line[i+1:]); rest != "" {
						title = rest
					}
					break
				}
				if c < '0' || c > '9' {
					break
				}
			}
			if title == "" && (strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ")) {
				title = strings.TrimSpace(line[2:])
			}
		}

		if title != "" {
			// Only numbered items can be parents.
			if !strings.HasPrefix(line, "- ") && !strings.HasPrefix(line, "* ") {
				lastParentLine = line
			}
			tasks = append(tasks, llm.ExtractedTask{
				Title:    title,
				Priority: classifyTaskPriority(title),
				Body:     line,
			})
		}
	}

	return tasks
}

// classifyTaskPriority infers a priority keyword from the title. Urgent
// keywords win over low ones. Defaults to "normal".
func classifyTaskPriority(title string) string {
	lower := strings.ToLower(title)

	rules := []struct {
		keyword  string
		keywords []string
	}{
		{"unbreak", []string{"critical", "urgent", "blocker", "crash", "security", "data loss", "production down", "p0"}},
		{"high", []string{"important", "asap", "regression", "p1"}},
		{"wish", []string{"nice to have", "someday", "wishlist", "maybe"}},
		{"low", []string{"minor", "cosmetic", "trivial", "low priority", "cleanup", "clean up"}},
	}
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.keyword
			}
		}
	}
	return "normal"
}
