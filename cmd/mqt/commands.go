package main

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"mongo-query-top/internal/advisor"
	"mongo-query-top/internal/config"
	"mongo-query-top/internal/db"
	"mongo-query-top/internal/render"
)

func parseOpid(arg string) (int64, error) {
	opid, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("opid must be an integer, got %q", arg)
	}
	return opid, nil
}

func newKillCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <opid>",
		Short: "Kill a running operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opid, err := parseOpid(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := openSession(ctx, opts)
			if err != nil {
				return err
			}
			conn, err := connectDB(ctx, s.uri)
			if err != nil {
				return err
			}
			defer conn.Close(context.Background())

			result, err := conn.KillOp(ctx, opid)
			if err != nil {
				return err
			}
			s.logger.WithField("opid", opid).Warn("Operation killed")

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}

func newAdviseCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "advise <opid>",
		Short: "Ask Gemini how to index a running operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opid, err := parseOpid(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := openSession(ctx, opts)
			if err != nil {
				return err
			}
			adv, err := advisor.New(ctx, s.cfg.Gemini.APIKey, s.cfg.Gemini.Model)
			if err != nil {
				return err
			}
			conn, err := connectDB(ctx, s.uri)
			if err != nil {
				return err
			}
			defer conn.Close(context.Background())

			ops, err := conn.CurrentOp(ctx, db.Filter{})
			if err != nil {
				return err
			}
			for i := range ops {
				if ops[i].Opid != opid {
					continue
				}
				advice, err := adv.Advise(ctx, &ops[i])
				if err != nil {
					return err
				}
				return printMarkdown(cmd, opts, advice)
			}
			return fmt.Errorf("operation %d is not running", opid)
		},
	}
}

func printMarkdown(cmd *cobra.Command, opts *options, md string) error {
	style := glamour.WithAutoStyle()
	if opts.noColor {
		style = glamour.WithStandardStyle("notty")
	}
	renderer, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(100))
	if err != nil {
		return err
	}
	out, err := renderer.Render(md)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), out)
	return err
}

func newServersCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List the configured server profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := loadSettings(opts)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTARGET")
			names := cfg.ServerNames()
			if _, err := cfg.Server(config.DefaultServer); err == nil && !slices.Contains(names, config.DefaultServer) {
				names = append([]string{config.DefaultServer}, names...)
			}
			for _, name := range names {
				server, _ := cfg.Server(name)
				fmt.Fprintf(w, "%s\t%s\n", name, describe(server))
			}
			return w.Flush()
		},
	}
}

func describe(s config.Server) string {
	if s.URI != "" {
		return render.RedactURI(s.URI)
	}
	if s.Atlas != nil && s.Atlas.ClusterName != "" {
		return fmt.Sprintf("atlas:%s/%s", s.Atlas.ProjectID, s.Atlas.ClusterName)
	}
	return "(no uri)"
}
