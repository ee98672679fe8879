package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/xhspub/internal/httpclient"
)

var publishFlags struct {
	title       string
	script      string
	extra       string
	tags        string
	name        string
	videoURL    string
	publishTime string
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Submit a publish request to a running daemon",
	Example: `  xhspub publish --title "今日分享" --tags "#生活 #日常" --video-url https://example.com/clip.mp4
  xhspub publish --title "Launch" --publish-time "2026-01-01 09:00"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(false); err != nil {
			return err
		}

		payload := map[string]interface{}{
			"content": map[string]string{
				"title":  publishFlags.title,
				"script": publishFlags.script,
			},
		}
		optional := map[string]string{
			"content_extra": publishFlags.extra,
			"tags":          publishFlags.tags,
			"name":          publishFlags.name,
			"video_url":     publishFlags.videoURL,
			"publish_time":  publishFlags.publishTime,
		}
		for key, value := range optional {
			if value != "" {
				payload[key] = value
			}
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}

		client := httpclient.NewDefaultHTTPClient(30*time.Second)
		resp, err := client.Post(baseURL()+"/publish", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to reach daemon at %s: %w", baseURL(), err)
		}
		defer resp.Body.Close()

		var result struct {
			Success       bool   `json:"success"`
			Message       string `json:"message"`
			Error         string `json:"error"`
			TaskID        string `json:"task_id"`
			Position      int    `json:"position"`
			QueueDepth    int    `json:"queue_depth"`
			ScheduledTime string `json:"scheduled_time"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to decode response (HTTP %d): %w", resp.StatusCode, err)
		}

		if resp.StatusCode != http.StatusAccepted || !result.Success {
			return fmt.Errorf("publish rejected (HTTP %d): %s", resp.StatusCode, result.Error)
		}

		fmt.Printf("Queued task %s at position %d (queue depth %d)\n", result.TaskID, result.Position, result.QueueDepth)
		if result.ScheduledTime != "" {
			fmt.Printf("Scheduled for %s\n", result.ScheduledTime)
		}
		return nil
	},
}

func init() {
	f := publishCmd.Flags()
	f.StringVar(&publishFlags.title, "title", "", "Post title (required)")
	f.StringVar(&publishFlags.script, "script", "", "Post body text")
	f.StringVar(&publishFlags.extra, "extra", "", "Extra text appended to the body")
	f.StringVar(&publishFlags.tags, "tags", "", "Hashtags, e.g. \"#a #b\"")
	f.StringVar(&publishFlags.name, "name", "", "Account identity (default from config)")
	f.StringVar(&publishFlags.videoURL, "video-url", "", "Video to download and upload")
	f.StringVar(&publishFlags.publishTime, "publish-time", "", "Scheduled time YYYY-MM-DD HH:MM (default now + delay)")
	_ = publishCmd.MarkFlagRequired("title")
}
