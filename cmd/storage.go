package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/schema"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect the database schema",
}

var storageSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the CREATE TABLE statement declared by the task model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return storageSchemaRun()
	},
}

var storageCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare the live tasks table against the declared schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return storageCheckRun()
	},
}

var storageLogCmd = &cobra.Command{
	Use:   "destruction-log",
	Short: "Show recently destroyed objects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return storageLogRun()
	},
}

func init() {
	storageCmd.AddCommand(storageSchemaCmd)
	storageCmd.AddCommand(storageCheckCmd)
	storageCmd.AddCommand(storageLogCmd)
	rootCmd.AddCommand(storageCmd)
}

// taskTable is the table the task model declares.
func taskTable() schema.Table {
	return (&models.Task{}).Configuration().Table(models.TaskTable)
}

func storageSchemaRun() error {
	stmt, err := taskTable().CreateSQL()
	if err != nil {
		return err
	}
	fmt.Fprintln(ui.Out, stmt)
	return nil
}

func storageCheckRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	table := taskTable()
	problems, err := s.CheckSchema(context.Background(), table)
	if err != nil {
		return err
	}
	if len(problems) == 0 {
		ui.Success("Table %s matches its declared schema", table.Name)
		return nil
	}
	for _, p := range problems {
		ui.Error("%s: %s", table.Name, p)
	}
	return fmt.Errorf("table %s has %d schema problem(s)", table.Name, len(problems))
}

func storageLogRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	records, err := s.ListDestructionLog(context.Background(), 50)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		ui.Info("Nothing has been destroyed.")
		return nil
	}
	table := ui.Table([]string{"Object", "Type", "Root"})
	for _, r := range records {
		_ = table.Append([]string{r.ObjectPHID, r.ObjectType, r.RootPHID})
	}
	_ = table.Render()
	return nil
}
