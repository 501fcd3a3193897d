package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"sigilix/internal/api"
	"sigilix/internal/config"
)

// RequestChat asks the running daemon to open a chat with target, a username
// or a numeric user id.
func RequestChat(target string, cfg *config.Config) error {
	reqBody, err := json.Marshal(api.RequestChatRequest{Target: target})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/chats", cfg.AdminAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the daemon running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var result api.RequestChatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to request chat (Status: %d): %s", resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK || !result.Success {
		return fmt.Errorf("failed to request chat (Status: %d): %s", resp.StatusCode, result.Message)
	}

	fmt.Printf("\nChat Requested Successfully!\n")
	fmt.Printf("Chat ID:           %d\n", result.ChatID)
	fmt.Printf("Title:             %s\n\n", result.Title)
	fmt.Println("The chat becomes usable once the other side accepts it.")
	return nil
}
