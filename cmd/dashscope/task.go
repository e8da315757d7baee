package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aqstack/dashscope-go/pkg/dashscope"
)

var (
	flagTaskStatus   string
	flagTaskModel    string
	flagTaskPageNo   int
	flagTaskPageSize int
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and manage asynchronous tasks",
}

var taskFetchCmd = &cobra.Command{
	Use:   "fetch <task-id>",
	Short: "Print the current status or result of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c dashscope.Client) (*dashscope.APIResponse, error) {
			return c.FetchTask(cmd.Context(), args[0])
		}, cmd)
	},
}

var taskWaitCmd = &cobra.Command{
	Use:   "wait <task-id>",
	Short: "Block until a task reaches a terminal status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c dashscope.Client) (*dashscope.APIResponse, error) {
			return c.WaitTask(cmd.Context(), args[0])
		}, cmd)
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a pending task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c dashscope.Client) (*dashscope.APIResponse, error) {
			return c.CancelTask(cmd.Context(), args[0])
		}, cmd)
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List this account's asynchronous tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c dashscope.Client) (*dashscope.APIResponse, error) {
			return c.ListTasks(cmd.Context(), dashscope.ListTasksParams{
				ModelName: flagTaskModel,
				Status:    dashscope.TaskStatus(flagTaskStatus),
				PageNo:    flagTaskPageNo,
				PageSize:  flagTaskPageSize,
			})
		}, cmd)
	},
}

func init() {
	taskListCmd.Flags().StringVar(&flagTaskStatus, "status", "", "filter by status (PENDING, RUNNING, SUCCEEDED, ...)")
	taskListCmd.Flags().StringVar(&flagTaskModel, "model-name", "", "filter by model name")
	taskListCmd.Flags().IntVar(&flagTaskPageNo, "page", 0, "page number")
	taskListCmd.Flags().IntVar(&flagTaskPageSize, "page-size", 0, "page size")

	taskCmd.AddCommand(taskFetchCmd, taskWaitCmd, taskCancelCmd, taskListCmd)
}

// withClient runs one raw API call and prints the envelope as JSON.
func withClient(call func(dashscope.Client) (*dashscope.APIResponse, error), cmd *cobra.Command) error {
	cfg, err := clientConfig()
	if err != nil {
		return err
	}
	rsp, err := call(dashscope.NewClient(cfg))
	if err != nil {
		return err
	}
	if err := rsp.Err(); err != nil {
		return err
	}
	raw, err := rsp.ToJSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(raw))
	return nil
}
