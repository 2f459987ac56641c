package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"geminichat/core"
	"geminichat/core/history"
	"geminichat/core/llm"
)

type rootOptions struct {
	cfgPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "geminichat",
		Short:         "Chat, summarize and vision prompts over HTTP and Matrix",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.cfgPath, "config", "c", "config.toml", "config toml path")
	cmd.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newHistoryCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web server and, when enabled, the Matrix bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root)
		},
	}
}

type askOptions struct {
	mode      string
	imagePath string
}

func newAskCmd(root *rootOptions) *cobra.Command {
	opts := askOptions{mode: core.ModeChat.String()}
	cmd := &cobra.Command{
		Use:   "ask [flags] <prompt...>",
		Short: "Dispatch one prompt and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, root, opts, strings.Join(args, " "))
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.mode, "mode", "m", opts.mode, "chat, summarize or vision")
	fs.StringVarP(&opts.imagePath, "image", "i", "", "image file for vision mode")
	return cmd
}

func runAsk(cmd *cobra.Command, root *rootOptions, opts askOptions, prompt string) error {
	cfg, err := LoadConfig(root.cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.requireAPIKey(); err != nil {
		return err
	}
	log := newLogger(cfg.Logging, os.Stderr)

	mode, err := core.ParseMode(opts.mode)
	if err != nil {
		return err
	}
	req := core.Request{Mode: mode, Prompt: prompt}
	if opts.imagePath != "" {
		data, err := os.ReadFile(opts.imagePath)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		req.Image = &core.Image{Data: data, MIMEType: mimetype.Detect(data).String()}
	}

	ctx := cmd.Context()
	provider, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	d := core.NewDispatcher(provider, core.WithLogger(log))
	resp, err := d.Handle(ctx, req)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
	return err
}

type historyOptions struct {
	userID string
	limit  int
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	opts := historyOptions{limit: 20}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored exchanges for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, root, opts)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.userID, "user", "u", "", "user id (X-User-Id or Matrix user id)")
	fs.IntVarP(&opts.limit, "limit", "n", opts.limit, "max rows")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runHistory(cmd *cobra.Command, root *rootOptions, opts historyOptions) error {
	cfg, err := LoadConfig(root.cfgPath)
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	items, err := store.ListByUser(ctx, opts.userID, opts.limit)
	if err != nil {
		return err
	}
	return printHistory(cmd, items)
}

func printHistory(cmd *cobra.Command, items []history.Conversation) error {
	out := cmd.OutOrStdout()
	if len(items) == 0 {
		_, err := fmt.Fprintln(out, "no conversations")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMODE\tPROMPT\tRESPONSE")
	for _, c := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			c.CreatedAt.Local().Format(time.DateTime), c.Type, oneLine(c.Prompt, 40), oneLine(c.Response, 60))
	}
	return tw.Flush()
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "geminichat", version)
			return err
		},
	}
}
