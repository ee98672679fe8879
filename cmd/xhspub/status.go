package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/ternarybob/xhspub/internal/httpclient"
	"github.com/ternarybob/xhspub/internal/models"
)

type queueStatus struct {
	models.QueueSnapshot
	Worker map[string]interface{} `json:"worker"`
}

var statusHistory int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the worker state, queued tasks and recent results of a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(false); err != nil {
			return err
		}

		client := httpclient.NewDefaultHTTPClient(10 * time.Second)

		var queue queueStatus
		if err := getJSON(client, baseURL()+"/api/queue", &queue); err != nil {
			return err
		}

		fmt.Printf("Worker: %v", queue.Worker["state"])
		if id, ok := queue.Worker["last_task_id"]; ok {
			fmt.Printf("  (last %v: %v)", id, queue.Worker["last_result"])
		}
		fmt.Printf("\nQueue depth: %d\n\n", queue.Depth)

		rows := make([]*models.TaskRecord, 0, len(queue.Pending)+1)
		if queue.Active != nil {
			rows = append(rows, queue.Active)
		}
		rows = append(rows, queue.Pending...)
		if len(rows) > 0 {
			fmt.Println(renderTasks(rows))
		}

		if statusHistory > 0 {
			var history struct {
				Tasks []*models.TaskRecord `json:"tasks"`
			}
			url := fmt.Sprintf("%s/api/tasks?limit=%d", baseURL(), statusHistory)
			if err := getJSON(client, url, &history); err != nil {
				return err
			}
			if len(history.Tasks) > 0 {
				fmt.Println("\nRecent tasks:")
				fmt.Println(renderTasks(history.Tasks))
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVarP(&statusHistory, "history", "n", 10, "Number of recent task records to show (0 to hide)")
}

func getJSON(client *http.Client, url string, v interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to reach daemon at %s: %w", baseURL(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned HTTP %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return nil
}

func renderTasks(records []*models.TaskRecord) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		tw.SetStyle(table.StyleLight)
	}
	tw.AppendHeader(table.Row{"#", "Task", "Account", "Title", "Status", "State", "Scheduled", "Error"})

	for _, record := range records {
		errText := record.Error
		if record.ErrorKind != "" {
			errText = record.ErrorKind + ": " + errText
		}
		tw.AppendRow(table.Row{
			record.Position,
			shortID(record.ID),
			record.Account,
			text.Trim(record.Title, 24),
			string(record.Status),
			string(record.LastState),
			record.ScheduledFor,
			text.Trim(errText, 48),
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
	})
	return tw.Render()
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, "task_")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
