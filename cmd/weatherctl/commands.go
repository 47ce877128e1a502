package main

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/api/dto"
	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/spf13/cobra"
)

// --- weather ---

var citiesCmd = &cobra.Command{
	Use:   "cities",
	Short: "List monitored cities",
	RunE: func(cmd *cobra.Command, args []string) error {
		search, _ := cmd.Flags().GetString("search")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/api/v1/cities"
		if search != "" {
			path += "?" + url.Values{"q": {search}}.Encode()
		}

		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result dto.ListCitiesResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCOUNTRY\tLAT\tLON")
		for _, c := range result.Cities {
			fmt.Fprintf(w, "%s\t%s\t%.4f\t%.4f\n", c.Name, c.Country, c.Latitude, c.Longitude)
		}
		return w.Flush()
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest <city>",
	Short: "Show the latest observation for a city",
	Long: `Show the latest observation for a city. The api-service refreshes it
from the live provider when the stored row is stale.

Examples:
  weatherctl latest London
  weatherctl latest "New York" --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/v1/weather/"+url.PathEscape(args[0])+"/latest")
		if err != nil {
			return err
		}

		var obs domain.Observation
		if err := decodeJSON(resp, &obs); err != nil {
			return err
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), obs)
		}
		printObservation(cmd.OutOrStdout(), obs)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <city>",
	Short: "Summarise stored history for a city",
	Long: `Summarise stored history for a city over the last N days or an explicit
RFC3339 window. History is never fetched on demand; run a backfill first.

Examples:
  weatherctl history Tokyo --days 3
  weatherctl history Tokyo --start 2026-01-01T00:00:00Z --end 2026-01-08T00:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		asJSON, _ := cmd.Flags().GetBool("json")

		query, err := historyQuery(days, start, end)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/v1/weather/"+url.PathEscape(args[0])+"/history"+query)
		if err != nil {
			return err
		}

		var result domain.HistoryResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), result)
		}
		printHistory(cmd.OutOrStdout(), result)
		return nil
	},
}

func historyQuery(days int, start, end string) (string, error) {
	if (start == "") != (end == "") {
		return "", fmt.Errorf("--start and --end must be given together")
	}

	v := url.Values{}
	if start != "" {
		for _, s := range []string{start, end} {
			if _, err := time.Parse(time.RFC3339, s); err != nil {
				return "", fmt.Errorf("invalid RFC3339 time %q", s)
			}
		}
		v.Set("start", start)
		v.Set("end", end)
	} else if days > 0 {
		v.Set("days", strconv.Itoa(days))
	}

	if len(v) == 0 {
		return "", nil
	}
	return "?" + v.Encode(), nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show observation store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/v1/stats")
		if err != nil {
			return err
		}

		var stats domain.StoreStats
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printField(out, "Records", "%d", stats.TotalRecords)
		printField(out, "Cities", "%d", stats.DistinctCities)
		for src, n := range stats.RecordsBySource {
			printField(out, "  "+src, "%d", n)
		}
		if stats.NewestTimestamp != nil {
			printField(out, "Newest", "%s", stats.NewestTimestamp.Format(time.RFC3339))
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check api-service and database health",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/health")
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s is %s", result["service"], result["status"])
		return nil
	},
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Trigger ingestion jobs and inspect runs",
}

var jobsPollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Queue an immediate poll of current conditions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return trigger(cmd, "/api/v1/jobs/poll", nil)
	},
}

var jobsBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Queue a history backfill",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			return fmt.Errorf("--days must be positive")
		}
		return trigger(cmd, "/api/v1/jobs/backfill", dto.TriggerBackfillRequest{Days: days})
	},
}

func trigger(cmd *cobra.Command, path string, body any) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.post(cmd.Context(), path, body)
	if err != nil {
		return err
	}

	var result dto.TriggerResponse
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	printSuccess("Queued %s (trigger %s)", result.Job, result.TriggerID)
	return nil
}

var jobsRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List job runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		job, _ := cmd.Flags().GetString("job")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		cursor, _ := cmd.Flags().GetString("cursor")

		v := url.Values{}
		if job != "" {
			v.Set("job_name", job)
		}
		if status != "" {
			v.Set("status", status)
		}
		if limit > 0 {
			v.Set("page_size", strconv.Itoa(limit))
		}
		if cursor != "" {
			v.Set("cursor", cursor)
		}

		path := "/api/v1/jobs/runs"
		if len(v) > 0 {
			path += "?" + v.Encode()
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result dto.ListRunsResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tJOB\tSTATUS\tSTARTED\tCITIES\tINSERTED\tUPDATED\tDROPPED")
		for _, r := range result.Runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%d\t%d\n",
				r.RunID, r.JobName, r.Status, r.StartedAt,
				r.CitiesProcessed-r.CitiesFailed, r.CitiesProcessed,
				r.RecordsInserted, r.RecordsUpdated, r.RecordsDropped)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if result.NextCursor != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "\nmore: --cursor %s\n", result.NextCursor)
		}
		return nil
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Show one job run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/v1/jobs/runs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var run dto.JobRunDTO
		if err := decodeJSON(resp, &run); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), run)
	},
}

func init() {
	citiesCmd.Flags().String("search", "", "only cities whose name contains this text")

	latestCmd.Flags().Bool("json", false, "print the raw observation")

	historyCmd.Flags().Int("days", 0, "days back from now (server default when unset)")
	historyCmd.Flags().String("start", "", "window start, RFC3339")
	historyCmd.Flags().String("end", "", "window end, RFC3339")
	historyCmd.Flags().Bool("json", false, "print the raw result")

	jobsBackfillCmd.Flags().Int("days", 7, "days of history to backfill")

	jobsRunsCmd.Flags().String("job", "", "filter by job name (poll_current, backfill_history)")
	jobsRunsCmd.Flags().String("status", "", "filter by status (running, success, failed)")
	jobsRunsCmd.Flags().Int("limit", 20, "page size")
	jobsRunsCmd.Flags().String("cursor", "", "page cursor from a previous listing")
}

func printObservation(w io.Writer, obs domain.Observation) {
	fmt.Fprintf(w, "%s, %s\n", obs.EntityID, obs.CountryCode)
	printField(w, "Observed", "%s (%s, %s ago)", obs.Timestamp.Format(time.RFC3339), obs.Source,
		time.Since(obs.Timestamp).Truncate(time.Minute))
	if obs.Condition != "" {
		printField(w, "Condition", "%s", conditionText(obs))
	}
	printMeasure(w, "Temperature", obs.Temperature, "°C")
	printMeasure(w, "Feels like", obs.FeelsLike, "°C")
	printMeasure(w, "Humidity", obs.Humidity, "%")
	printMeasure(w, "Pressure", obs.Pressure, " hPa")
	printMeasure(w, "Wind", obs.WindSpeed, " m/s")
}

func conditionText(obs domain.Observation) string {
	if obs.Description == "" || obs.Description == obs.Condition {
		return obs.Condition
	}
	return obs.Condition + " (" + obs.Description + ")"
}

func printMeasure(w io.Writer, label string, v *float64, unit string) {
	if v == nil {
		return
	}
	printField(w, label, "%.1f%s", *v, unit)
}

func printHistory(w io.Writer, res domain.HistoryResult) {
	switch res.Status {
	case domain.HistoryComplete:
		a := res.Aggregate
		fmt.Fprintf(w, "%s %s .. %s\n", a.EntityID, a.Start.Format(time.RFC3339), a.End.Format(time.RFC3339))
		printField(w, "Records", "%d", a.RecordCount)
		printMeasure(w, "Avg temperature", a.AvgTemperature, "°C")
		printMeasure(w, "Min temperature", a.MinTemperature, "°C")
		printMeasure(w, "Max temperature", a.MaxTemperature, "°C")
		printMeasure(w, "Avg humidity", a.AvgHumidity, "%")
		printMeasure(w, "Avg wind", a.AvgWindSpeed, " m/s")
		if a.MostCommonCondition != "" {
			printField(w, "Most common", "%s", a.MostCommonCondition)
		}
	case domain.HistoryInsufficient:
		h := res.Insufficient
		printWarning("Stored history for %s does not cover the requested window", h.EntityID)
		printField(w, "Requested", "%s .. %s", h.RequestedStart.Format(time.RFC3339), h.RequestedEnd.Format(time.RFC3339))
		if h.AvailableStart != nil && h.AvailableEnd != nil {
			printField(w, "Available", "%s .. %s (%d records)",
				h.AvailableStart.Format(time.RFC3339), h.AvailableEnd.Format(time.RFC3339), h.RecordCount)
		} else {
			printField(w, "Available", "none")
		}
		fmt.Fprintln(w, "Run `weatherctl jobs backfill --days N` to extend coverage.")
	}
}
