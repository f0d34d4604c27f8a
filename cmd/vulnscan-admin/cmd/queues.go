package cmd

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

var queuesCmd = &cobra.Command{
	Use:   "queues",
	Short: "Inspect job queues and manage dead-lettered tasks",
}

var queuesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-queue task counts",
	RunE:  runQueueStats,
}

var queuesDeadCmd = &cobra.Command{
	Use:   "dead",
	Short: "List dead-lettered tasks",
	RunE:  runQueuesDead,
}

var queuesRequeueCmd = &cobra.Command{
	Use:   "requeue <task-id>",
	Short: "Requeue a dead-lettered task for another run",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueuesRequeue,
}

var queuesDeleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete a dead-lettered task permanently",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueuesDelete,
}

func init() {
	queuesDeadCmd.Flags().String("queue", "", "Only this queue (scans, discovery, reports, notifications)")
	queuesDeadCmd.Flags().Int("page", 1, "Page number")
	queuesDeadCmd.Flags().Int("size", 50, "Tasks per page")

	queuesRequeueCmd.Flags().String("queue", "", "Queue holding the task (searched when omitted)")
	queuesDeleteCmd.Flags().String("queue", "", "Queue holding the task (searched when omitted)")

	queuesCmd.AddCommand(queuesStatsCmd)
	queuesCmd.AddCommand(queuesDeadCmd)
	queuesCmd.AddCommand(queuesRequeueCmd)
	queuesCmd.AddCommand(queuesDeleteCmd)
}

// Response types matching server handler structs.

type queueCounts struct {
	Pending   int64 `json:"pending"`
	Active    int64 `json:"active"`
	Scheduled int64 `json:"scheduled"`
	Retry     int64 `json:"retry"`
	Archived  int64 `json:"archived"`
	Completed int64 `json:"completed"`
}

type deadTask struct {
	ID           string `json:"id"`
	Queue        string `json:"queue"`
	Type         string `json:"type"`
	Retried      int    `json:"retried"`
	LastError    string `json:"last_error"`
	LastFailedAt string `json:"last_failed_at"`
}

type deadTasksResponse struct {
	Tasks []deadTask `json:"tasks"`
	Count int        `json:"count"`
}

type requeueResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

func runQueueStats(_ *cobra.Command, _ []string) error {
	client := mustClient()

	data, err := client.Get("/api/v1/queues/stats")
	if err != nil {
		return err
	}

	var stats map[string]queueCounts
	if err := unmarshal(data, &stats); err != nil {
		return err
	}

	if flagOutput == outputJSON {
		printJSON(stats)
		return nil
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	t := newTable("QUEUE", "PENDING", "ACTIVE", "SCHEDULED", "RETRY", "ARCHIVED", "COMPLETED")
	for _, name := range names {
		c := stats[name]
		t.AddRow(name,
			strconv.FormatInt(c.Pending, 10),
			strconv.FormatInt(c.Active, 10),
			strconv.FormatInt(c.Scheduled, 10),
			strconv.FormatInt(c.Retry, 10),
			strconv.FormatInt(c.Archived, 10),
			strconv.FormatInt(c.Completed, 10),
		)
	}
	t.Flush()
	return nil
}

func runQueuesDead(cmd *cobra.Command, _ []string) error {
	client := mustClient()

	params := url.Values{}
	if v, _ := cmd.Flags().GetString("queue"); v != "" {
		params.Set("queue", v)
	}
	if v, _ := cmd.Flags().GetInt("page"); v > 1 {
		params.Set("page", strconv.Itoa(v))
	}
	if v, _ := cmd.Flags().GetInt("size"); v > 0 {
		params.Set("size", strconv.Itoa(v))
	}

	path := "/api/v1/queues/dead"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	data, err := client.Get(path)
	if err != nil {
		return err
	}

	var resp deadTasksResponse
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	if flagOutput == outputJSON {
		printJSON(resp)
		return nil
	}

	if resp.Count == 0 {
		fmt.Println("No dead-lettered tasks.")
		return nil
	}

	t := newTable("ID", "QUEUE", "TYPE", "RETRIED", "FAILED AT", "LAST ERROR")
	for _, task := range resp.Tasks {
		t.AddRow(task.ID, task.Queue, task.Type,
			strconv.Itoa(task.Retried),
			shortTime(task.LastFailedAt),
			truncate(task.LastError, 60),
		)
	}
	t.Flush()
	fmt.Printf("\n%d dead-lettered task(s)\n", resp.Count)
	return nil
}

func runQueuesRequeue(cmd *cobra.Command, args []string) error {
	client := mustClient()

	path := "/api/v1/queues/dead/" + url.PathEscape(args[0]) + "/requeue"
	if v, _ := cmd.Flags().GetString("queue"); v != "" {
		path += "?queue=" + url.QueryEscape(v)
	}

	data, err := client.Post(path, nil)
	if err != nil {
		return err
	}

	var resp requeueResponse
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	if flagOutput == outputJSON {
		printJSON(resp)
		return nil
	}

	fmt.Printf("Task %s requeued on %q\n", resp.TaskID, resp.Queue)
	return nil
}

func runQueuesDelete(cmd *cobra.Command, args []string) error {
	client := mustClient()

	path := "/api/v1/queues/dead/" + url.PathEscape(args[0])
	if v, _ := cmd.Flags().GetString("queue"); v != "" {
		path += "?queue=" + url.QueryEscape(v)
	}

	if err := client.Delete(path); err != nil {
		return err
	}

	fmt.Printf("Task %s deleted\n", args[0])
	return nil
}
