package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aqstack/dashscope-go/pkg/dashscope"
	"github.com/aqstack/dashscope-go/pkg/dashscope/generation"
)

var (
	flagStream bool
	flagSystem string
	flagJSON   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [prompt...]",
	Short: "Run text generation with a qwen model",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().BoolVar(&flagStream, "stream", false, "stream the answer as it is generated")
	generateCmd.Flags().StringVar(&flagSystem, "system", "", "system prompt")
	generateCmd.Flags().BoolVar(&flagJSON, "json", false, "print the full response envelope as JSON")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := clientConfig()
	if err != nil {
		return err
	}
	name, err := model()
	if err != nil {
		return err
	}

	prompt := strings.Join(args, " ")
	req := generation.Request{
		Model: name,
		Parameters: generation.Parameters{
			ResultFormat: generation.ResultFormatMessage,
		},
	}
	if flagSystem != "" {
		req.Messages = append(req.Messages, generation.Message{Role: generation.RoleSystem, Content: flagSystem})
	}
	req.Messages = append(req.Messages, generation.Message{Role: generation.RoleUser, Content: prompt})

	c := generation.New(cfg)
	ctx := cmd.Context()

	if !flagStream {
		rsp, err := c.Call(ctx, req)
		if err != nil {
			return err
		}
		if err := rsp.Err(); err != nil {
			return err
		}
		return printGeneration(cmd.OutOrStdout(), rsp)
	}

	req.Parameters.IncrementalOutput = dashscope.BoolPtr(true)
	s, err := c.Stream(ctx, req)
	if err != nil {
		return err
	}
	defer s.Close()

	// Recv returns the accumulated text, so print only the new suffix.
	printed := 0
	var last *generation.Response
	for {
		rsp, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := rsp.Err(); err != nil {
			return err
		}
		text := rsp.Text()
		if len(text) > printed {
			fmt.Fprint(cmd.OutOrStdout(), text[printed:])
			printed = len(text)
		}
		last = rsp
	}
	fmt.Fprintln(cmd.OutOrStdout())
	if flagJSON && last != nil {
		return printGeneration(cmd.OutOrStdout(), last)
	}
	return nil
}

func printGeneration(w io.Writer, rsp *generation.Response) error {
	if flagJSON {
		raw, err := json.MarshalIndent(rsp, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	_, err := fmt.Fprintln(w, rsp.Text())
	return err
}
