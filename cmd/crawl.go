package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type crawlOutput struct {
	RunID    string `json:"run_id"`
	Source   string `json:"source"`
	Date     string `json:"date"`
	State    string `json:"state"`
	Articles int    `json:"articles"`
	Error    string `json:"error,omitempty"`
}

func newCrawlCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "crawl SOURCE...",
		Short: "Crawls one or more sources once and exits",
		Long: `Runs a synchronous crawl of each named source, one after another, for the
given edition date (today in China Standard Time when omitted). One JSON
result line is printed per source.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a App) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				var errs []error
				for _, key := range args {
					res, err := a.Crawl(ctx, key, date)
					out := crawlOutput{
						RunID:    res.RunID,
						Source:   key,
						Date:     res.Date,
						State:    string(res.State),
						Articles: res.Articles,
					}
					if err != nil {
						out.Error = err.Error()
						errs = append(errs, err)
						a.Logger().Error("crawl failed", zap.String("source", key), zap.Error(err))
					}
					if encErr := enc.Encode(out); encErr != nil {
						return fmt.Errorf("write result: %w", encErr)
					}
				}
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "edition date, YYYY-MM-DD")
	return cmd
}
