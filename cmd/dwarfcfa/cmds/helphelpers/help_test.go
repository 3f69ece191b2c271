package helphelpers

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

func tree() (root, rows, version *cobra.Command) {
	root = &cobra.Command{Use: "dwarfcfa"}
	root.PersistentFlags().Bool("offsets", false, "")
	root.PersistentFlags().Bool("log", false, "")
	rows = &cobra.Command{Use: "rows", Run: func(*cobra.Command, []string) {}}
	rows.Flags().String("pc", "", "")
	version = &cobra.Command{Use: "version", Run: func(*cobra.Command, []string) {}}
	version.Flags().Bool("verbose", false, "")
	root.AddCommand(rows, version)
	return root, rows, version
}

func TestPrepareHidesInheritedFlag(t *testing.T) {
	root, rows, _ := tree()
	Prepare(rows)
	assert.True(t, root.PersistentFlags().Lookup("offsets").Hidden)
	assert.False(t, root.PersistentFlags().Lookup("log").Hidden)
	assert.False(t, rows.Flags().Lookup("pc").Hidden)
}

func TestPrepareHidesAllFlags(t *testing.T) {
	root, _, version := tree()
	Prepare(version)
	assert.True(t, version.Flags().Lookup("verbose").Hidden)
	assert.True(t, root.PersistentFlags().Lookup("offsets").Hidden)
	assert.True(t, root.PersistentFlags().Lookup("log").Hidden)
}
