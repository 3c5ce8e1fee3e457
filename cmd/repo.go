package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/output"
)

var (
	repoName      string
	repoVCS       string
	repoRemote    string
	repoBranch    string
	repoUntracked bool
)

var repoCmd = &cobra.Command{
	Use:     "repo",
	Aliases: []string{"repository"},
	Short:   "Manage repositories that diffs attach to",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoListRun()
	},
}

var repoAddCmd = &cobra.Command{
	Use:   "add <callsign>",
	Short: "Register a repository (administrators only)",
	Long: `Register a repository under a short uppercase callsign. Diffs imported with
--repo <callsign> link their files to the repository browser.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoAddRun(args[0])
	},
}

var repoListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List repositories",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoListRun()
	},
}

func init() {
	repoAddCmd.Flags().StringVar(&repoName, "name", "", "Display name (default: callsign)")
	repoAddCmd.Flags().StringVar(&repoVCS, "vcs", models.VCSGit, "Version control system: git, hg, svn")
	repoAddCmd.Flags().StringVar(&repoRemote, "remote", "", "Remote URI")
	repoAddCmd.Flags().StringVar(&repoBranch, "branch", "main", "Default branch")
	repoAddCmd.Flags().BoolVar(&repoUntracked, "untracked", false, "Register without enabling repository browsing")

	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoListCmd)
	rootCmd.AddCommand(repoCmd)
}

// validCallsign reports whether s is a non-empty run of uppercase letters.
func validCallsign(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

func repoAddRun(callsign string) error {
	callsign = strings.ToUpper(callsign)
	if !validCallsign(callsign) {
		return fmt.Errorf("invalid callsign %q (letters only)", callsign)
	}
	if !models.ValidVCS(repoVCS) {
		return fmt.Errorf("unknown vcs %q (git, hg or svn)", repoVCS)
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	actor, err := currentUser(s)
	if err != nil {
		return err
	}
	if !actor.IsAdministrator() {
		return fmt.Errorf("only administrators can add repositories")
	}
	if _, err := s.GetRepositoryByCallsign(ctx, callsign); err == nil {
		return fmt.Errorf("repository already exists: %s", callsign)
	}

	name := repoName
	if name == "" {
		name = callsign
	}
	repo := &models.Repository{
		Callsign:      callsign,
		Name:          name,
		VCS:           repoVCS,
		RemoteURI:     repoRemote,
		DefaultBranch: repoBranch,
		Tracked:       !repoUntracked,
	}

	if dryRun {
		ui.DryRunMsg("Would add repository r%s (%s)", callsign, name)
		return nil
	}

	if err := s.CreateRepository(ctx, repo); err != nil {
		return err
	}
	ui.Success("Added repository %s", output.Cyan("r"+callsign))
	return nil
}

func repoListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	repos, err := s.ListRepositories(context.Background())
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		ui.Info("No repositories.")
		return nil
	}

	table := ui.Table([]string{"Callsign", "Name", "VCS", "Branch", "Tracked"})
	for _, r := range repos {
		tracked := output.Green("yes")
		if !r.Tracked {
			tracked = output.Yellow("no")
		}
		_ = table.Append([]string{"r" + r.Callsign, r.Name, r.VCS, r.DefaultBranch, tracked})
	}
	_ = table.Render()
	return nil
}
