package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"bilancio/internal/core"
	"bilancio/internal/report"
	"bilancio/internal/services"
	"bilancio/internal/sheets"
	sheetsmem "bilancio/internal/sheets/memory"
)

var (
	ErrNoQueue      = errors.New("no message broker configured (set AMQP_URL)")
	ErrNoCategories = errors.New("no category source: pass --file or configure GOOGLE_SPREADSHEET_ID")
)

func newSyncCommand(opts *RootOptions) *cobra.Command {
	var queue bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push local changes and merge the remote state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := opts.environment(ctx)
			if err != nil {
				return err
			}
			if queue {
				if env.Queue == nil {
					return ErrNoQueue
				}
				sess, err := env.Budget.Session(ctx)
				if err != nil {
					return err
				}
				if err := env.Queue.PublishSyncRequest(ctx, sess.Email, "bilancioctl"); err != nil {
					return fmt.Errorf("queue sync: %w", err)
				}
				return opts.print(cmd.OutOrStdout(), map[string]string{"queued": sess.Email}, func(w io.Writer) {
					fmt.Fprintf(w, "Sync queued for %s\n", sess.Email)
				})
			}
			res, err := env.Budget.Sync(ctx)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "Sync %s: pushed %d, deleted %d, pulled %d, adopted %d (%s)\n",
					res.RunID, res.Push.Pushed, res.Push.Deleted, res.Pulled, res.Merge.Adopted, res.Duration.Round(time.Millisecond))
			})
		},
	}
	cmd.Flags().BoolVar(&queue, "queue", false, "hand the run to bilancio-worker instead of syncing here")
	return cmd
}

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync status of the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.environment(cmd.Context())
			if err != nil {
				return err
			}
			st, err := env.Budget.SyncStatus(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), st, func(w io.Writer) { printStatus(w, st) })
		},
	}
}

func printStatus(w io.Writer, st services.SyncStatus) {
	fmt.Fprintf(w, "Account:      %s\n", st.Account)
	fmt.Fprintf(w, "State:        %s\n", st.State)
	if !st.LastSuccess.IsZero() {
		fmt.Fprintf(w, "Last success: %s\n", st.LastSuccess.Format(time.RFC3339))
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "Last error:   %s\n", st.LastError)
	}
}

func newReportCommand(opts *RootOptions) *cobra.Command {
	var export bool
	cmd := &cobra.Command{
		Use:       "report weekly|monthly",
		Short:     "Build a period report, optionally appending it to the sheet",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(report.Weekly), string(report.Monthly)},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := report.Kind(args[0])
			if !kind.Valid() {
				return fmt.Errorf("unknown report kind %q: must be weekly or monthly", args[0])
			}
			env, err := opts.environment(cmd.Context())
			if err != nil {
				return err
			}
			rep, err := env.Budget.Report(cmd.Context(), kind)
			if err != nil {
				return err
			}
			out := newReportOutput(rep)
			if export {
				ref, err := env.Budget.ExportReport(cmd.Context(), kind)
				if err != nil {
					return err
				}
				out.Ref = ref
			}
			return opts.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "%s\n", rep.Title)
				fmt.Fprintf(w, "  Income:       %s\n", rep.Income)
				fmt.Fprintf(w, "  Expense:      %s\n", rep.Expense)
				fmt.Fprintf(w, "  Balance:      %s\n", rep.Balance())
				fmt.Fprintf(w, "  Top category: %s\n", rep.TopExpenseCategory)
				fmt.Fprintf(w, "  Trend:        %s\n", rep.ExpenseTrend)
				if out.Ref != "" {
					fmt.Fprintf(w, "Exported to %s\n", out.Ref)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&export, "export", false, "append the report to the configured sheet")
	return cmd
}

type reportOutput struct {
	Kind        report.Kind `json:"kind"`
	Title       string      `json:"title"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	Income      core.Money  `json:"income"`
	Expense     core.Money  `json:"expense"`
	Balance     core.Money  `json:"balance"`
	TopCategory string      `json:"topCategory"`
	Trend       string      `json:"trend"`
	Ref         string      `json:"ref,omitempty"`
}

func newReportOutput(rep report.Report) reportOutput {
	row := sheets.RowFrom(rep)
	return reportOutput{
		Kind:        row.Kind,
		Title:       row.Title,
		From:        row.From,
		To:          row.To,
		Income:      row.Income,
		Expense:     row.Expense,
		Balance:     row.Balance,
		TopCategory: row.TopCategory,
		Trend:       row.Trend,
	}
}

func newRemindersCommand(opts *RootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Notify recurring payments due today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if date != "" {
				d, err := time.ParseInLocation(time.DateOnly, date, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", date)
				}
				now = d.Add(12 * time.Hour)
			}
			env, err := opts.environment(cmd.Context())
			if err != nil {
				return err
			}
			n, err := env.Budget.CheckRecurringReminders(cmd.Context(), now)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]int{"reminded": n}, func(w io.Writer) {
				fmt.Fprintf(w, "%d reminder(s) sent\n", n)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "check as of this day (YYYY-MM-DD) instead of today")
	return cmd
}

func newInviteCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Manage collaboration invites",
	}

	var (
		role string
		from string
	)
	send := &cobra.Command{
		Use:   "send <email>",
		Short: "Invite someone to the family budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.environment(cmd.Context())
			if err != nil {
				return err
			}
			inv, err := env.Budget.SendInvite(cmd.Context(), args[0], from, core.Role(role))
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), inv, func(w io.Writer) {
				fmt.Fprintf(w, "Invited %s as %s\n", inv.Email, inv.Role)
			})
		},
	}
	send.Flags().StringVar(&role, "role", string(core.RoleEditor), "role granted on acceptance (owner|editor|viewer)")
	send.Flags().StringVar(&from, "from", "", "inviter name shown to the invitee")
	_ = send.MarkFlagRequired("from")

	resolve := &cobra.Command{
		Use:       "resolve <email> accepted|declined",
		Short:     "Accept or decline the pending invite for an email",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(core.InviteAccepted), string(core.InviteDeclined)},
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.environment(cmd.Context())
			if err != nil {
				return err
			}
			inv, err := env.Budget.UpdateInviteStatus(cmd.Context(), args[0], core.InviteStatus(args[1]))
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), inv, func(w io.Writer) {
				fmt.Fprintf(w, "Invite for %s %s\n", inv.Email, inv.Status)
			})
		},
	}

	cmd.AddCommand(send, resolve)
	return cmd
}

func newCategoriesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage categories",
	}

	var file string
	imp := &cobra.Command{
		Use:   "import",
		Short: "Add categories from the sheet or a file, skipping existing names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.environment(cmd.Context())
			if err != nil {
				return err
			}
			var src sheets.CategoryReader
			switch {
			case file != "":
				if src, err = sheetsmem.NewFromFile(file); err != nil {
					return err
				}
			case env.Categories != nil:
				src = env.Categories
			default:
				return ErrNoCategories
			}
			n, err := env.Budget.ImportCategories(cmd.Context(), src)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]int{"imported": n}, func(w io.Writer) {
				fmt.Fprintf(w, "%d categor%s imported\n", n, plural(n, "y", "ies"))
			})
		},
	}
	imp.Flags().StringVar(&file, "file", "", "read category names from this file, one per line")

	cmd.AddCommand(imp)
	return cmd
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
