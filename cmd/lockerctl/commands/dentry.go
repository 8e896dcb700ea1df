package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/mdslocker/lockerd/cmd/lockerctl/cmdutil"
	"github.com/mdslocker/lockerd/internal/cli/output"
	"github.com/spf13/cobra"
)

// dentrySnapshot mirrors cmd/lockersimd's debug JSON shape for a dentry.
type dentrySnapshot struct {
	ID        string `json:"id"`
	Authority string `json:"authority"`
	State     string `json:"state"`
	Xlocker   string `json:"xlocker"`
	Null      bool   `json:"null"`
}

// dentryList is a list of dentry snapshots for table rendering.
type dentryList []dentrySnapshot

// Headers implements output.TableRenderer.
func (l dentryList) Headers() []string {
	return []string{"DENTRY", "AUTHORITY", "STATE", "XLOCKER", "NULL"}
}

// Rows implements output.TableRenderer.
func (l dentryList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, d := range l {
		rows = append(rows, []string{
			d.ID,
			d.Authority,
			d.State,
			emptyOr(d.Xlocker, "-"),
			strconv.FormatBool(d.Null),
		})
	}
	return rows
}

func emptyOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

var dentryCmd = &cobra.Command{
	Use:   "dentry",
	Short: "Inspect dentry (DN) lock cells",
}

var dentryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every cached dentry's DN state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var snaps dentryList
		if err := cmdutil.FetchJSON("/dentries", &snaps); err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println("No dentries cached.")
			return nil
		}
		return output.PrintTable(os.Stdout, snaps)
	},
}

func init() {
	dentryCmd.AddCommand(dentryListCmd)
}
