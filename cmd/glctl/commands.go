package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Oss53pa/Atlas-Finance-sub012/cmd/glctl/cli"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/allocation"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/policy"
)

type rootFlags struct {
	workbook   string
	policyPath string
	year       int
	startMonth int
	partitions int
	jsonOutput bool
}

func (f *rootFlags) ledgerCLI(stdin io.Reader) (*cli.LedgerCLI, error) {
	doc, err := policy.Load(f.policyPath)
	if err != nil {
		return nil, err
	}
	return cli.NewLedgerCLI(doc, f.partitions).WithStdin(stdin), nil
}

func (f *rootFlags) period() cli.PeriodOptions {
	return cli.PeriodOptions{Workbook: f.workbook, Year: f.year, StartMonth: time.Month(f.startMonth)}
}

// newRootCmd builds the glctl command tree. Commands store their exit status in code.
func newRootCmd(stdin io.Reader, stdout, stderr io.Writer, code *int) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "glctl",
		Short:         "General ledger toolkit",
		Long:          "Aggregate journal entries into account ledgers, compute year-end carry-forwards, allocate results and evaluate going-concern controls.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.workbook, "workbook", "f", "", "workbook JSON file (- for stdin)")
	pf.StringVar(&flags.policyPath, "policy", "", "allocation and continuity policy (YAML or JSON)")
	pf.IntVar(&flags.year, "year", 0, "fiscal year to project")
	pf.IntVar(&flags.startMonth, "start-month", 1, "first month of the fiscal year")
	pf.IntVar(&flags.partitions, "partitions", 1, "aggregate accounts across this many workers")
	pf.BoolVar(&flags.jsonOutput, "json", false, "emit JSON")

	output := func() cli.Output {
		return cli.Output{JSONOutput: flags.jsonOutput, Stdout: stdout, Stderr: stderr}
	}
	withLedger := func(run func(*cli.LedgerCLI) int) func(*cobra.Command, []string) error {
		return func(*cobra.Command, []string) error {
			if flags.startMonth < 1 || flags.startMonth > 12 {
				return fmt.Errorf("--start-month must be between 1 and 12")
			}
			c, err := flags.ledgerCLI(stdin)
			if err != nil {
				return err
			}
			*code = run(c)
			return nil
		}
	}

	var sortByCode bool
	aggregate := &cobra.Command{
		Use:   "aggregate",
		Short: "Build account ledgers from journal entries",
		RunE: withLedger(func(c *cli.LedgerCLI) int {
			return c.AggregateCommand(cli.AggregateOptions{PeriodOptions: flags.period(), Output: output(), SortByCode: sortByCode})
		}),
	}
	aggregate.Flags().BoolVar(&sortByCode, "sort", false, "order ledgers by account code")

	var asOf string
	closeCmd := &cobra.Command{
		Use:   "close",
		Short: "Compute and validate the year-end carry-forward",
		RunE: withLedger(func(c *cli.LedgerCLI) int {
			return c.CloseCommand(cli.CloseOptions{PeriodOptions: flags.period(), Output: output(), AsOf: asOf})
		}),
	}
	closeCmd.Flags().StringVar(&asOf, "as-of", "", "reconciliation date (defaults to the fiscal year end)")

	var net int64
	var adjust string
	allocate := &cobra.Command{
		Use:   "allocate",
		Short: "Split the net result into reserves, dividends and carry-forward",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.AllocateOptions{PeriodOptions: flags.period(), Output: output()}
			if cmd.Flags().Changed("net") {
				amount := accounting.Amount(net)
				opts.NetResult = &amount
			}
			if adjust != "" {
				var amounts allocation.Amounts
				if err := json.Unmarshal([]byte(adjust), &amounts); err != nil {
					return fmt.Errorf("--adjust: %w", err)
				}
				opts.Adjust = &amounts
			}
			return withLedger(func(c *cli.LedgerCLI) int {
				return c.AllocateCommand(opts)
			})(cmd, args)
		},
	}
	allocate.Flags().Int64Var(&net, "net", 0, "net result in minor units instead of deriving it from the workbook")
	allocate.Flags().StringVar(&adjust, "adjust", "", `manual amounts as JSON, e.g. {"dividends":100000}`)

	continuityCmd := &cobra.Command{
		Use:   "continuity",
		Short: "Evaluate going-concern controls on closing balances",
		RunE: withLedger(func(c *cli.LedgerCLI) int {
			return c.ContinuityCommand(cli.ContinuityOptions{PeriodOptions: flags.period(), Output: output()})
		}),
	}

	statements := &cobra.Command{
		Use:   "statements",
		Short: "Print the P&L and balance sheet of the fiscal year",
		RunE: withLedger(func(c *cli.LedgerCLI) int {
			return c.StatementsCommand(cli.StatementsOptions{PeriodOptions: flags.period(), Output: output()})
		}),
	}

	root.AddCommand(aggregate, closeCmd, allocate, continuityCmd, statements, newJobsCmd(flags, stdout, code))
	return root
}

func newJobsCmd(flags *rootFlags, stdout io.Writer, code *int) *cobra.Command {
	var redisAddr string
	var actorID int64
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Enqueue and inspect background ledger tasks",
	}
	jobsCmd.PersistentFlags().StringVar(&redisAddr, "redis", "127.0.0.1:6379", "Redis address of the worker queue")

	trigger := &cobra.Command{
		Use:       "trigger close|integrity",
		Short:     "Enqueue a fiscal year close or integrity check",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"close", "integrity"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cli.NewJobsCLI(redisAddr)
			defer c.Close()
			info, err := c.Trigger(cmd.Context(), args[0], flags.year, actorID)
			if err != nil {
				*code = cli.ExitFailure
				return err
			}
			_, _ = fmt.Fprintf(stdout, "enqueued %s (%s) on %s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	trigger.Flags().Int64Var(&actorID, "actor", 0, "user ID recorded on the close")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show the worker queue state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cli.NewJobsCLI(redisAddr)
			defer c.Close()
			s, err := c.InspectQueue(cmd.Context())
			if err != nil {
				*code = cli.ExitFailure
				return err
			}
			if flags.jsonOutput {
				return json.NewEncoder(stdout).Encode(s)
			}
			_, _ = fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
			return nil
		},
	}
	jobsCmd.AddCommand(trigger, stats)
	return jobsCmd
}
