package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parcelpipe/salecrawler/internal/scrape"
)

const dateLayout = "01/02/2006"

// searchWindow is one date range to search.
type searchWindow struct {
	Start string
	End   string
	Label string
}

// defaultWindows covers a month back and a month ahead of now: the trailing
// window catches recently recorded sales, the leading window catches upcoming
// ones.
func defaultWindows(now time.Time) []searchWindow {
	return []searchWindow{
		{
			Start: now.AddDate(0, -1, 0).Format(dateLayout),
			End:   now.Format(dateLayout),
			Label: "previous month",
		},
		{
			Start: now.Format(dateLayout),
			End:   now.AddDate(0, 1, 0).Format(dateLayout),
			Label: "next month",
		},
	}
}

func newRunCmd() *cobra.Command {
	var (
		state  string
		county string
		start  string
		end    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute search runs for the configured county",
		Long: `Executes one run per date window and waits for each to finish. With no
--start/--end the previous-month and next-month windows are used; with both
flags a single run covers exactly that range.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (start == "") != (end == "") {
				return fmt.Errorf("--start and --end must be given together")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			closeLogger, err := buildLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLogger()

			ctx := cmd.Context()
			svc, err := buildServices(ctx, cfg, rootLogger)
			if err != nil {
				return err
			}
			defer svc.cleanup()

			var windows []searchWindow
			if start != "" {
				for _, raw := range []string{start, end} {
					if _, perr := time.Parse(dateLayout, raw); perr != nil {
						return fmt.Errorf("date %q is not MM/DD/YYYY: %w", raw, perr)
					}
				}
				windows = []searchWindow{{Start: start, End: end, Label: "requested range"}}
			} else {
				windows = defaultWindows(time.Now())
			}

			var failed int
			for i, win := range windows {
				req := scrape.SearchRequest{
					State:     state,
					County:    county,
					StartDate: win.Start,
					EndDate:   win.End,
				}
				rootLogger.Info("starting run",
					zap.String("window", win.Label),
					zap.String("start_date", win.Start),
					zap.String("end_date", win.End),
					zap.String("county", county))

				run, err := svc.worker.Execute(ctx, req)
				if err != nil {
					return fmt.Errorf("window %q: %w", win.Label, err)
				}
				if run.Status != scrape.RunStatusSucceeded {
					failed++
					rootLogger.Error("run did not succeed",
						zap.String("window", win.Label),
						zap.String("run_id", run.ID),
						zap.String("status", string(run.Status)),
						zap.String("error", run.ErrorText))
				} else {
					rootLogger.Info("run succeeded",
						zap.String("window", win.Label),
						zap.String("run_id", run.ID),
						zap.Int("pages", run.Counters.PagesFetched),
						zap.Int("solve_attempts", run.Counters.SolveAttempts))
				}

				if i < len(windows)-1 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(cfg.InterRunDelay()):
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, len(windows))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "WA", "property state code")
	cmd.Flags().StringVar(&county, "county", "King", "county name")
	cmd.Flags().StringVar(&start, "start", "", "range start, MM/DD/YYYY")
	cmd.Flags().StringVar(&end, "end", "", "range end, MM/DD/YYYY")
	return cmd
}
