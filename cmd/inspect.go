// inspect.go - checkpoint content listing
package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/llamastream/llamastream/model"
)

// NewInspectCommand builds the inspect subcommand, a table of the tensors in
// a checkpoint directory.
func NewInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect MODEL_DIR",
		Short: "List the tensors of a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  InspectHandler,
	}
	return cmd
}

func InspectHandler(_ *cobra.Command, args []string) error {
	ws, err := model.OpenWeights(args[0])
	if err != nil {
		return err
	}

	var data [][]string
	for _, name := range ws.Names() {
		t, err := ws.Tensor(name)
		if err != nil {
			return err
		}
		data = append(data, []string{name, t.DType().String(), fmt.Sprintf("%v", t.Shape())})
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"NAME", "DTYPE", "SHAPE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	return nil
}
