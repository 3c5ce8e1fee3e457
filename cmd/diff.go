package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/forge/internal/differential"
	"github.com/joescharf/forge/internal/git"
	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/output"
)

var (
	diffRepo   string
	diffBranch string
	diffBase   string
	diffPath   string
	diffDesc   string
	diffLimit  int
	diffSide   string
	diffStat   bool
	diffGit    bool
)

// gitClient is swapped out in tests.
var gitClient git.Client = git.NewClient()

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Import and inspect diffs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return diffListRun()
	},
}

var diffImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a unified diff",
	Long: `Import a unified or git diff. Use "-" to read stdin:

  git diff main | forge diff import - --repo FRG --branch feature

With --git the argument is a working copy path (default "."). The diff is
taken against --base (via its merge base with HEAD) or HEAD, and the branch,
base revision, path and repository are filled in from the checkout. The
repository is matched by its remote URI unless --repo is given.`,
	Args: cobra.RangeArgs(0, 1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if diffGit {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			return diffImportGitRun(path)
		}
		if len(args) != 1 {
			return fmt.Errorf("import needs a file, or - for stdin")
		}
		return diffImportRun(args[0])
	},
}

var diffListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recent diffs",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return diffListRun()
	},
}

var diffShowCmd = &cobra.Command{
	Use:   "show <diff-id>",
	Short: "Show a diff in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return diffShowRun(args[0])
	},
}

var diffRawCmd = &cobra.Command{
	Use:   "raw <changeset-id>",
	Short: "Print one side of a changed file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return diffRawRun(args[0])
	},
}

func init() {
	diffImportCmd.Flags().StringVar(&diffRepo, "repo", "", "Repository callsign")
	diffImportCmd.Flags().StringVar(&diffBranch, "branch", "", "Branch the diff was made on")
	diffImportCmd.Flags().StringVar(&diffBase, "base", "", "Base revision")
	diffImportCmd.Flags().StringVar(&diffPath, "path", "", "Source control path")
	diffImportCmd.Flags().StringVar(&diffDesc, "desc", "", "Description")
	diffImportCmd.Flags().BoolVar(&diffGit, "git", false, "Read the diff from a git working copy")

	diffListCmd.Flags().IntVar(&diffLimit, "limit", 20, "Maximum number of diffs")

	diffShowCmd.Flags().BoolVar(&diffStat, "stat", false, "Only list files with line counts")

	diffRawCmd.Flags().StringVar(&diffSide, "side", string(differential.SideRight), "Which side: old or new")

	diffCmd.AddCommand(diffImportCmd)
	diffCmd.AddCommand(diffListCmd)
	diffCmd.AddCommand(diffShowCmd)
	diffCmd.AddCommand(diffRawCmd)
	rootCmd.AddCommand(diffCmd)
}

func diffImportRun(file string) error {
	raw, err := readInput(file)
	if err != nil {
		return err
	}
	return importDiff(raw)
}

// diffImportGitRun imports the working copy at path, filling unset flags
// from the checkout.
func diffImportGitRun(path string) error {
	wc, err := gitClient.Inspect(path)
	if err != nil {
		return err
	}

	base := wc.Head
	if diffBase != "" {
		if base, err = gitClient.MergeBase(wc.Root, diffBase, "HEAD"); err != nil {
			return err
		}
	}
	raw, err := gitClient.Diff(wc.Root, base)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return fmt.Errorf("no changes in %s against %s", wc.Root, baseLabel(base))
	}

	diffBase = base
	if diffBranch == "" {
		diffBranch = wc.Branch
	}
	if diffPath == "" {
		diffPath = wc.Root
	}
	if diffRepo == "" && wc.RemoteURL != "" {
		callsign, err := repositoryForRemote(wc.RemoteURL)
		if err != nil {
			return err
		}
		diffRepo = callsign
	}
	return importDiff(raw)
}

func baseLabel(base string) string {
	if len(base) > 12 {
		return base[:12]
	}
	if base == "" {
		return "HEAD"
	}
	return base
}

// repositoryForRemote returns the callsign of the repository whose remote
// URI matches remote, or "" if none does.
func repositoryForRemote(remote string) (string, error) {
	s, err := getStore()
	if err != nil {
		return "", err
	}
	repos, err := s.ListRepositories(context.Background())
	if err != nil {
		return "", err
	}
	want := git.NormalizeRemote(remote)
	for _, r := range repos {
		if r.RemoteURI != "" && git.NormalizeRemote(r.RemoteURI) == want {
			ui.VerboseLog("Matched remote %s to r%s", remote, r.Callsign)
			return r.Callsign, nil
		}
	}
	return "", nil
}

func importDiff(raw []byte) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	actor, err := currentUser(s)
	if err != nil {
		return err
	}

	opts := differential.ImportOptions{
		SourceControlPath: diffPath,
		Branch:            diffBranch,
		BaseRevision:      diffBase,
		Description:       diffDesc,
	}
	if diffRepo != "" {
		repo, err := s.GetRepositoryByCallsign(ctx, strings.ToUpper(diffRepo))
		if err != nil {
			return fmt.Errorf("repository %s: %w", diffRepo, err)
		}
		opts.RepositoryPHID = repo.PHID
	}

	if dryRun {
		changesets, err := differential.ParseDiff(raw)
		if err != nil {
			return err
		}
		ui.DryRunMsg("Would import a diff touching %d file(s)", len(changesets))
		return nil
	}

	d, changesets, err := differential.NewImporter(s, logger).Import(ctx, actor, raw, opts)
	if err != nil {
		return err
	}
	ui.Success("Imported diff %s (%d file(s))", output.Cyan(strconv.FormatInt(d.ID, 10)), len(changesets))
	for _, cs := range changesets {
		ui.VerboseLog("%-8s %s %s", cs.ChangeType, cs.DisplayFilename(), output.LineCounts(cs.AddLines, cs.DelLines))
	}
	return nil
}

func diffListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	diffs, err := s.ListDiffs(ctx, diffLimit)
	if err != nil {
		return err
	}
	if len(diffs) == 0 {
		ui.Info("No diffs.")
		return nil
	}

	table := ui.Table([]string{"ID", "Branch", "Files", "Lines", "Author", "Created"})
	for _, d := range diffs {
		changesets, err := s.ListChangesets(ctx, d.ID)
		if err != nil {
			return err
		}
		added, removed := 0, 0
		for _, cs := range changesets {
			added += cs.AddLines
			removed += cs.DelLines
		}
		author := d.AuthorPHID
		if u, err := s.GetUser(ctx, d.AuthorPHID); err == nil {
			author = u.Username
		}
		_ = table.Append([]string{
			strconv.FormatInt(d.ID, 10),
			d.Branch,
			strconv.Itoa(len(changesets)),
			output.LineCounts(added, removed),
			author,
			d.DateCreated.Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()
	return nil
}

func diffShowRun(ref string) error {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid diff id: %s", ref)
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	d, err := s.GetDiff(ctx, id)
	if err != nil {
		return err
	}
	changesets, err := s.ListChangesets(ctx, d.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "Diff %s", output.Cyan(strconv.FormatInt(d.ID, 10)))
	if d.Branch != "" {
		fmt.Fprintf(ui.Out, " on %s", d.Branch)
	}
	fmt.Fprintln(ui.Out)
	if d.Description != "" {
		fmt.Fprintf(ui.Out, "  %s\n", d.Description)
	}

	for _, cs := range changesets {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "%s %s  %s  (changeset %d)\n",
			changeTypeLabel(cs.ChangeType), cs.DisplayFilename(), output.LineCounts(cs.AddLines, cs.DelLines), cs.ID)
		if diffStat {
			continue
		}
		printHunks(cs)
	}
	return nil
}

func changeTypeLabel(c models.ChangeType) string {
	label := strings.ToUpper(c.String())
	switch {
	case c == models.ChangeTypeAdd:
		return output.Green(label)
	case c.IsDeleteLike():
		return output.Red(label)
	default:
		return output.Yellow(label)
	}
}

// printHunks writes hunks in unified form with colored line prefixes.
func printHunks(cs *models.Changeset) {
	if len(cs.Hunks) == 0 {
		fmt.Fprintln(ui.Out, "  (no text changes)")
		return
	}
	for _, h := range cs.Hunks {
		fmt.Fprintln(ui.Out, output.Cyan(fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldOffset, h.OldLen, h.NewOffset, h.NewLen)))
		for _, line := range strings.Split(strings.TrimSuffix(h.Corpus, "\n"), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				fmt.Fprintln(ui.Out, output.Green(line))
			case strings.HasPrefix(line, "-"):
				fmt.Fprintln(ui.Out, output.Red(line))
			default:
				fmt.Fprintln(ui.Out, line)
			}
		}
	}
}

func diffRawRun(ref string) error {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid changeset id: %s", ref)
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	cs, err := s.GetChangeset(context.Background(), id)
	if err != nil {
		return err
	}
	text, err := differential.RawFile(cs, differential.Side(diffSide))
	if err != nil {
		return err
	}
	fmt.Fprint(ui.Out, text)
	return nil
}
