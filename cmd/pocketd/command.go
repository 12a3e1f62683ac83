package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var commandCmd = &cobra.Command{
	Use:   "cmd [prompt...]",
	Short: "Send a prompt to the device agent as the interactive user",
	Long: `Sends a prompt to the device agent. The interactive user takes the device
lock, preempting the notification agent and scheduled tasks.`,
	Aliases: []string{"command", "ask"},
	Args:    cobra.MinimumNArgs(1),
	RunE:    runCommand,
}

func runCommand(cmd *cobra.Command, args []string) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return errors.New("prompt is required")
	}

	resp, err := apiDo(agentAPIClient, http.MethodPost, "/command", map[string]string{"prompt": prompt})
	if err != nil {
		return err
	}

	var result struct {
		Result string `json:"result"`
		Turns  int    `json:"turns"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	fmt.Println(result.Result)
	fmt.Printf("\n(%d turns)\n", result.Turns)
	return nil
}
