package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aqstack/dashscope-go/pkg/dashscope"
	"github.com/aqstack/dashscope-go/pkg/dashscope/imagesynthesis"
)

var (
	flagImageSize     string
	flagImageN        int
	flagImageNegative string
	flagImageWait     bool
)

var imageCmd = &cobra.Command{
	Use:   "image [prompt...]",
	Short: "Generate images with a wanx model",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImage,
}

func init() {
	imageCmd.Flags().StringVar(&flagImageSize, "size", "1024*1024", "output size, <width>*<height>")
	imageCmd.Flags().IntVarP(&flagImageN, "count", "n", 1, "number of images")
	imageCmd.Flags().StringVar(&flagImageNegative, "negative", "", "negative prompt")
	imageCmd.Flags().BoolVar(&flagImageWait, "wait", true, "wait for the task and print result URLs")
	imageCmd.Flags().BoolVar(&flagJSON, "json", false, "print the full response envelope as JSON")
}

func runImage(cmd *cobra.Command, args []string) error {
	cfg, err := clientConfig()
	if err != nil {
		return err
	}
	name := flagModel
	if name == "" {
		if name = fileModel; name == "" {
			name = imagesynthesis.ModelWanxV1
		}
	}

	req := imagesynthesis.Request{
		Model:          name,
		Prompt:         strings.Join(args, " "),
		NegativePrompt: flagImageNegative,
		Parameters: imagesynthesis.Parameters{
			Size: flagImageSize,
			N:    dashscope.IntPtr(flagImageN),
		},
	}

	c := imagesynthesis.New(cfg)
	ctx := cmd.Context()

	if !flagImageWait {
		rsp, err := c.AsyncCall(ctx, req)
		if err != nil {
			return err
		}
		if err := rsp.Err(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rsp.TaskID())
		return nil
	}

	rsp, err := c.Call(ctx, req)
	if err != nil {
		return err
	}
	if err := rsp.Err(); err != nil {
		return err
	}
	if flagJSON {
		raw, err := json.MarshalIndent(rsp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return nil
	}
	for _, res := range rsp.Output.Results {
		if res.URL != "" {
			fmt.Fprintln(cmd.OutOrStdout(), res.URL)
		}
	}
	return nil
}
