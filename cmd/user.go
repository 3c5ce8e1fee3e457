package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/output"
	"github.com/joescharf/forge/internal/store"
)

var (
	userRealName string
	userAdmin    bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a user",
	Long: `Create a user. Only administrators can create users, except for the very
first user, which is always created as an administrator.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userAddRun(args[0])
	},
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List users",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

var userEditorCmd = &cobra.Command{
	Use:   "editor <pattern>",
	Short: "Set your editor link pattern",
	Long: `Set the URI pattern used for "Open in Editor" links on diff pages.

Placeholders: %f file path, %l line number, %r repository callsign and
%% for a literal percent. Example:

  forge user editor 'txmt://open/?url=file:///src/%r/%f&line=%l'

Pass an empty string to remove the pattern.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userEditorRun(args[0])
	},
}

var userDisableCmd = &cobra.Command{
	Use:   "disable <username>",
	Short: "Disable a user (administrators only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userDisableRun(args[0])
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userRealName, "real-name", "", "Display name")
	userAddCmd.Flags().BoolVar(&userAdmin, "admin", false, "Make the user an administrator")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userEditorCmd)
	userCmd.AddCommand(userDisableCmd)
	rootCmd.AddCommand(userCmd)
}

func userAddRun(username string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	users, err := s.ListUsers(ctx)
	if err != nil {
		return err
	}
	admin := userAdmin
	if len(users) == 0 {
		admin = true
	} else {
		actor, err := currentUser(s)
		if err != nil {
			return err
		}
		if !actor.IsAdministrator() {
			return fmt.Errorf("only administrators can create users")
		}
	}
	if _, err := s.GetUserByUsername(ctx, username); err == nil {
		return fmt.Errorf("user already exists: %s", username)
	}

	if dryRun {
		ui.DryRunMsg("Would create user %s (admin: %v)", username, admin)
		return nil
	}

	u := &models.User{Username: username, RealName: userRealName, Admin: admin}
	if err := s.CreateUser(ctx, u); err != nil {
		return err
	}
	ui.Success("Created user %s", output.Cyan(u.Username))
	if admin && !userAdmin {
		ui.Info("First user is an administrator")
	}
	return nil
}

func userListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	users, err := s.ListUsers(context.Background())
	if err != nil {
		return err
	}
	if len(users) == 0 {
		ui.Info("No users. Create one with 'forge user add <username>'.")
		return nil
	}

	table := ui.Table([]string{"Username", "Name", "Role", "PHID"})
	for _, u := range users {
		role := "user"
		switch {
		case u.Disabled:
			role = output.Red("disabled")
		case u.Admin:
			role = output.Yellow("admin")
		}
		_ = table.Append([]string{u.Username, u.RealName, role, u.PHID})
	}
	_ = table.Render()
	return nil
}

func userEditorRun(pattern string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	actor, err := currentUser(s)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would set editor pattern for %s to %q", actor.Username, pattern)
		return nil
	}

	actor.EditorPattern = pattern
	if err := s.UpdateUser(context.Background(), actor); err != nil {
		return err
	}
	if pattern == "" {
		ui.Success("Removed editor pattern for %s", actor.Username)
		return nil
	}
	ui.Success("Editor pattern for %s set", actor.Username)
	allowed := viper.GetStringSlice("editor.allowed_protocols")
	if actor.LoadEditorLink("README", 1, "", allowed) == models.EditorProtocolHelpURI {
		ui.Warning("Pattern scheme is not in editor.allowed_protocols %v; links will point at help instead", allowed)
	}
	return nil
}

func userDisableRun(username string) error {
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
		return fmt.Errorf("only administrators can disable users")
	}
	u, err := lookupUser(ctx, s, username)
	if err != nil {
		return err
	}
	if u.PHID == actor.PHID {
		return fmt.Errorf("you cannot disable yourself")
	}

	if dryRun {
		ui.DryRunMsg("Would disable user %s", username)
		return nil
	}

	u.Disabled = true
	if err := s.UpdateUser(ctx, u); err != nil {
		return err
	}
	ui.Success("Disabled user %s", username)
	return nil
}

func lookupUser(ctx context.Context, s store.Store, username string) (*models.User, error) {
	u, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", username, err)
	}
	return u, nil
}
