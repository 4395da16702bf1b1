// Command fleetctl is the fleet operator CLI: register an agent, submit
// a task, inspect queue state, and cast a roundtable vote against a
// running fleetd instance.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var serverAddr string

func main() {
	root := &cobra.Command{
		Use:   "fleetctl",
		Short: "operator CLI for the fleet daemon",
	}
	root.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8080", "fleetd dashboard address")

	root.AddCommand(
		registerCmd(),
		submitCmd(),
		inspectCmd(),
		voteCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func registerCmd() *cobra.Command {
	var name, provider, model string
	var capabilities []string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "register a new agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"name":         name,
				"provider":     provider,
				"model":        model,
				"capabilities": capabilities,
			}
			return postJSON("/agents", body)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name")
	cmd.Flags().StringVar(&provider, "provider", "", "model provider")
	cmd.Flags().StringVar(&model, "model", "", "model identifier")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "capability (repeatable)")
	return cmd
}

func submitCmd() *cobra.Command {
	var name, description string
	var priority int

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "submit a task to the dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"name":        name,
				"description": description,
				"priority":    priority,
			}
			return postJSON("/tasks", body)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().IntVar(&priority, "priority", 2, "priority 1(low)-4(critical)")
	return cmd
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "print the current fleet snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return get("/snapshot")
		},
	}
}

func voteCmd() *cobra.Command {
	var sessionID, voterID, choice string

	cmd := &cobra.Command{
		Use:   "vote",
		Short: "cast a roundtable vote",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"voter_id": voterID,
				"choice":   choice,
			}
			return postJSON(fmt.Sprintf("/roundtable/%s/vote", sessionID), body)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "roundtable session ID")
	cmd.Flags().StringVar(&voterID, "voter", "", "voting agent ID")
	cmd.Flags().StringVar(&choice, "choice", "approve", "approve|reject")
	return cmd
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func postJSON(path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(serverAddr+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func get(path string) error {
	resp, err := httpClient.Get(serverAddr + path)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s: %s", resp.Status, string(data))
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
