package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/CloudNativeWorks/cnw-machine-license/mlicense/ledger"
)

type historyFlags struct {
	signature string
}

func newHistoryCmd(c *cli) *cobra.Command {
	var flags historyFlags
	cmd := &cobra.Command{
		Use:   "history [MACHINE_ID]",
		Short: "List licenses recorded in the issuance ledger",
		Example: `  # Licenses issued for one machine
  mlsign history 3f1c... --ledger-url postgres://localhost/licenses

  # Find the record of a license file's signature
  mlsign history --signature 9a0b...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runHistory(cmd, flags, args)
		},
	}
	cmd.Flags().StringVar(&flags.signature, "signature", "", "look up a single license by its signature")
	return cmd
}

func (c *cli) runHistory(cmd *cobra.Command, flags historyFlags, args []string) error {
	if (len(args) == 0) == (flags.signature == "") {
		return errors.New("specify either a machine id or --signature")
	}

	ctx := cmd.Context()
	l, release, err := c.openLedger(ctx)
	if err != nil {
		return err
	}
	defer release()

	var recs []ledger.IssuanceRecord
	if flags.signature != "" {
		rec, err := l.Lookup(ctx, flags.signature)
		if errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("no license recorded with signature %s", flags.signature)
		}
		if err != nil {
			return err
		}
		recs = append(recs, *rec)
	} else {
		recs, err = l.ListByMachine(ctx, args[0])
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			cmd.Printf("no licenses recorded for %s\n", args[0])
			return nil
		}
	}

	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, []string{rec.ID, rec.MachineID, rec.Username, rec.IssuedAt, rec.ExpiresAt})
	}
	printTable(cmd.OutOrStdout(), []string{"id", "machine", "username", "issued", "expires"}, rows)
	return nil
}

func printTable(writer io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(writer)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}
