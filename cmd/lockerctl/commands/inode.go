package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mdslocker/lockerd/cmd/lockerctl/cmdutil"
	"github.com/mdslocker/lockerd/internal/cli/output"
	"github.com/spf13/cobra"
)

// inodeSnapshot mirrors cmd/lockersimd's debug JSON shape for an inode.
type inodeSnapshot struct {
	ID              uint64   `json:"id"`
	Authority       string   `json:"authority"`
	HardState       string   `json:"hard_state"`
	FileState       string   `json:"file_state"`
	FileDataVersion uint64   `json:"file_data_version"`
	Clients         []string `json:"clients"`
}

// inodeList is a list of inode snapshots for table rendering.
type inodeList []inodeSnapshot

// Headers implements output.TableRenderer.
func (l inodeList) Headers() []string {
	return []string{"INODE", "AUTHORITY", "HARD", "FILE", "FDV", "CLIENTS"}
}

// Rows implements output.TableRenderer.
func (l inodeList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, in := range l {
		rows = append(rows, []string{
			strconv.FormatUint(in.ID, 10),
			in.Authority,
			in.HardState,
			in.FileState,
			strconv.FormatUint(in.FileDataVersion, 10),
			strings.Join(in.Clients, ","),
		})
	}
	return rows
}

var inodeCmd = &cobra.Command{
	Use:   "inode",
	Short: "Inspect inode lock cells",
}

var inodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every cached inode's HARD/FILE state and capability table",
	RunE: func(cmd *cobra.Command, args []string) error {
		var snaps inodeList
		if err := cmdutil.FetchJSON("/inodes", &snaps); err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println("No inodes cached.")
			return nil
		}
		return output.PrintTable(os.Stdout, snaps)
	},
}

func init() {
	inodeCmd.AddCommand(inodeListCmd)
}
