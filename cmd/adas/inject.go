package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ucarlab/go-adas/pkg/protocol"
)

var (
	injectTarget string
	injectType   string
	injectData   string
)

func init() {
	injectCmd.Flags().StringVar(&injectTarget, "dashboard",
		"http://localhost:5000", "dashboard base URL")
	injectCmd.Flags().StringVar(&injectType, "type", "",
		"message type (e.g. distance_reading, camera_frame)")
	injectCmd.Flags().StringVar(&injectData, "data", "{}",
		"JSON payload for the message")
	injectCmd.MarkFlagRequired("type")
}

var injectCmd = &cobra.Command{
	Use:   "inject <topic-suffix>",
	Short: "Publish a mock sensor message through the dashboard",
	Long: "Wrap a JSON payload in a message envelope and publish it on " +
		"the running stack's bus via the dashboard injection endpoint, " +
		"e.g.:\n\n" +
		"  adas inject sensors/distance --type distance_reading " +
		"--data '{\"distance\": 8.5}'",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := protocol.Envelope{
			Type:      protocol.MessageType(injectType),
			Timestamp: time.Now().UnixMilli(),
			Data:      []byte(injectData),
		}
		raw, err := env.Bytes()
		if err != nil {
			return fmt.Errorf("encode envelope: %w", err)
		}

		url := fmt.Sprintf("%s/api/inject/%s", injectTarget, args[0])
		resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("post %s: %w", url, err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 300 {
			return fmt.Errorf("dashboard rejected injection (%d): %s",
				resp.StatusCode, body)
		}
		fmt.Printf("%s\n", body)
		return nil
	},
}
