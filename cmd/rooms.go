package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/relay"
	"github.com/bourbonbuddy/tastecast/internal/ui"
	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:     "rooms",
	Aliases: []string{"ls"},
	Short:   "List live streams on the relay",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		stopSpinner := ui.RunSpinner("Fetching streams...")
		rooms, err := fetchRooms(cmd.Context(), cfg.ServerURL)
		stopSpinner()
		if err != nil {
			return err
		}

		ui.RenderRooms(rooms)
		return nil
	},
}

func roomsURL(serverURL string) string {
	return strings.TrimRight(serverURL, "/") + "/rooms"
}

// newStreamName asks the relay for a memorable stream name nobody is using.
func newStreamName(ctx context.Context, serverURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, roomsURL(serverURL), nil)
	if err != nil {
		return "", err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create stream: server returned %s", resp.Status)
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode stream name: %w", err)
	}
	return body.ID, nil
}

func fetchRooms(ctx context.Context, serverURL string) ([]relay.RoomInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, roomsURL(serverURL), nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rooms: server returned %s", resp.Status)
	}

	var rooms []relay.RoomInfo
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return rooms, nil
}
