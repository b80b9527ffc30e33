// Command runview-cli drives a runview dashboard from the terminal.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/runview/internal/domain"
)

var addr string

func main() {
	root := &cobra.Command{
		Use:           "runview-cli",
		Short:         "Inspect and drive a runview dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8095", "dashboard address")

	root.AddCommand(
		viewCmd(),
		activateCmd(),
		messagesCmd(),
		runCmd(),
		statusCmd(),
		stepsCmd(),
		deleteRunCmd(),
		loginCmd(),
		logoutCmd(),
		watchCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(data []byte) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(string(data))
		return
	}
	formatted, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(formatted))
}

func printView(sessionID, runID string, steps domain.StepMap) {
	fmt.Printf("session=%s active_run=%s\n", sessionID, runID)
	runs := make([]string, 0, len(steps))
	for id := range steps {
		runs = append(runs, id)
	}
	sort.Strings(runs)
	for _, id := range runs {
		fmt.Printf("  run %s\n", id)
		for _, st := range steps[id] {
			line := fmt.Sprintf("    %-6s %-12s %s", st.StepID, st.Status, st.AgentType)
			if st.Error != "" {
				line += "  error: " + st.Error
			}
			fmt.Println(line)
			for _, tc := range st.ToolCalls {
				fmt.Printf("           -> %s(%s)\n", tc.ToolName, tc.ArgsSummary)
			}
		}
	}
}

func simple(use, short string, nargs int, method string, path func(args []string) string, body func(args []string) interface{}) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			var b interface{}
			if body != nil {
				b = body(args)
			}
			data, err := newAPIClient(addr).call(method, path(args), b)
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	}
}

func viewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Print the merged steps of the active session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newAPIClient(addr).call(http.MethodGet, "/v1/view", nil)
			if err != nil {
				return err
			}
			var v struct {
				SessionID string         `json:"session_id"`
				RunID     string         `json:"run_id"`
				StepsMap  domain.StepMap `json:"steps_map"`
			}
			if err := json.Unmarshal(data, &v); err != nil {
				return err
			}
			printView(v.SessionID, v.RunID, v.StepsMap)
			return nil
		},
	}
}

func activateCmd() *cobra.Command {
	return simple("activate <session_id>", "Switch the dashboard to a session", 1, http.MethodPost,
		func(a []string) string { return "/v1/sessions/" + url.PathEscape(a[0]) + "/activate" }, nil)
}

func messagesCmd() *cobra.Command {
	return simple("messages <session_id>", "List a session's messages", 1, http.MethodGet,
		func(a []string) string { return "/v1/sessions/" + url.PathEscape(a[0]) + "/messages" }, nil)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <query...>",
		Short: "Start a run in the active session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newAPIClient(addr).call(http.MethodPost, "/v1/runs", map[string]string{"query": strings.Join(args, " ")})
			if err != nil {
				return err
			}
			printJSON(data)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return simple("status <run_id>", "Show a run's poll state", 1, http.MethodGet,
		func(a []string) string { return "/v1/runs/" + url.PathEscape(a[0]) + "/status" }, nil)
}

func stepsCmd() *cobra.Command {
	return simple("steps <run_id>", "Show a run's merged steps", 1, http.MethodGet,
		func(a []string) string { return "/v1/runs/" + url.PathEscape(a[0]) + "/steps" }, nil)
}

func deleteRunCmd() *cobra.Command {
	return simple("delete-run <run_id>", "Delete a run", 1, http.MethodDelete,
		func(a []string) string { return "/v1/runs/" + url.PathEscape(a[0]) }, nil)
}

func loginCmd() *cobra.Command {
	return simple("login <token>", "Sign the dashboard in to the backend", 1, http.MethodPost,
		func([]string) string { return "/v1/auth/token" },
		func(a []string) interface{} { return map[string]string{"token": a[0]} })
}

func logoutCmd() *cobra.Command {
	return simple("logout", "Sign the dashboard out", 0, http.MethodDelete,
		func([]string) string { return "/v1/auth/token" }, nil)
}

func watchCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream view updates and run outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialWatch(addr, sessionID)
			if err != nil {
				return err
			}
			defer client.Close()

			done := make(chan error, 1)
			go func() { done <- client.read() }()

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt)
			select {
			case <-interrupt:
				return nil
			case err := <-done:
				return err
			}
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "only follow this session")
	return cmd
}
