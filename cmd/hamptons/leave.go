package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamptons/attendance-engine/attendance"
	"github.com/hamptons/attendance-engine/leave"
)

func newLeaveCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leave",
		Short: "Leave policy setup and allocation",
	}
	cmd.AddCommand(newLeaveSeedCmd(flags), newLeaveAssignCmd(flags), newLeaveImportCmd(flags))
	return cmd
}

func newLeaveSeedCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create or update the Oman leave types and policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.handler.Leave.SetupPolicy(context.Background())
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, res)
		},
	}
}

func newLeaveAssignCmd(flags *globalFlags) *cobra.Command {
	var (
		employee      string
		policy        string
		effectiveFrom string
		carryForward  bool
	)
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a leave policy to one employee, or to every Active employee",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := context.Background()

			if employee == "" {
				res, err := a.handler.Leave.BulkAssign(ctx, policy)
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, res)
			}

			var from time.Time
			if effectiveFrom != "" {
				if from, err = attendance.ParseDate(effectiveFrom); err != nil {
					return fmt.Errorf("--effective-from: %w", err)
				}
			}
			res, err := a.handler.Leave.AssignPolicy(ctx, employee, policy, from, carryForward)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, res)
		},
	}
	cmd.Flags().StringVar(&employee, "employee", "", "employee id (all Active employees when empty)")
	cmd.Flags().StringVar(&policy, "policy", leave.OmanPolicyName, "leave policy name")
	cmd.Flags().StringVar(&effectiveFrom, "effective-from", "", "assignment start date (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&carryForward, "carry-forward", true, "carry unused leave forward")
	return cmd
}

func newLeaveImportCmd(flags *globalFlags) *cobra.Command {
	var opts leave.AllocateOptions
	var fromDate, toDate string

	cmd := &cobra.Command{
		Use:   "import-balances FILE",
		Short: "Allocate the policy to every Active employee using opening balances from a spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range []struct {
				flag string
				raw  string
				dst  *time.Time
			}{{"--from-date", fromDate, &opts.FromDate}, {"--to-date", toDate, &opts.ToDate}} {
				if p.raw == "" {
					continue
				}
				d, err := attendance.ParseDate(p.raw)
				if err != nil {
					return fmt.Errorf("%s: %w", p.flag, err)
				}
				*p.dst = d
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			balances, err := leave.ReadOpeningBalances(f, filepath.Base(args[0]))
			if err != nil {
				return err
			}
			opts.OpeningBalances = balances

			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.handler.Leave.AllocateWithOpeningBalances(context.Background(), opts)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, res)
		},
	}
	cmd.Flags().StringVar(&opts.Policy, "policy", leave.OmanPolicyName, "leave policy name")
	cmd.Flags().StringVar(&fromDate, "from-date", "", "allocation start (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&toDate, "to-date", "", "allocation end (YYYY-MM-DD, default one year after from-date)")
	cmd.Flags().StringVar(&opts.OpeningNote, "note", "", "description stored on opening balance allocations")
	return cmd
}
