// Command logctl browses and searches the relay's day-sharded chat logs from
// the command line, reading the same LOG_DIR the service writes to.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/twitch-questions/config"
	"github.com/onnwee/twitch-questions/logsink"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// resolveLogDir returns flagDir when set, otherwise the service's LOG_DIR
// setting with its default.
func resolveLogDir(flagDir string) (string, error) {
	if flagDir != "" {
		return flagDir, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return cfg.LogDir, nil
}

func newRootCmd(out io.Writer) *cobra.Command {
	var logDir string

	open := func() (*logsink.Sink, error) {
		dir, err := resolveLogDir(logDir)
		if err != nil {
			return nil, err
		}
		return logsink.OpenReadOnly(dir)
	}

	root := &cobra.Command{
		Use:           "logctl",
		Short:         "logctl - browse relayed chat logs",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&logDir, "log-dir", "", "Log root directory (default: LOG_DIR as the service resolves it)")
	root.SetOut(out)

	shardsCmd := &cobra.Command{
		Use:   "shards",
		Short: "List day shards, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sink, err := open()
			if err != nil {
				return err
			}
			shards, err := sink.ListShards()
			if err != nil {
				return err
			}
			for _, s := range shards {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}

	filesCmd := &cobra.Command{
		Use:   "files <date>",
		Short: "List the log files of one shard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sink, err := open()
			if err != nil {
				return err
			}
			files, err := sink.ListFiles(args[0])
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}

	catCmd := &cobra.Command{
		Use:   "cat <date> <file>",
		Short: "Print one log file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sink, err := open()
			if err != nil {
				return err
			}
			f, err := sink.Open(args[0], args[1])
			if err != nil {
				if errors.Is(err, logsink.ErrInvalidName) {
					return fmt.Errorf("invalid shard or file name")
				}
				return err
			}
			defer f.Close()
			_, err = io.Copy(cmd.OutOrStdout(), f)
			return err
		},
	}

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Case-insensitive literal search across every shard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sink, err := open()
			if err != nil {
				return err
			}
			results, err := sink.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, r := range results {
				for _, line := range r.Matches {
					fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: %s\n", r.Date, r.File, line)
				}
			}
			return nil
		},
	}

	root.AddCommand(shardsCmd, filesCmd, catCmd, searchCmd)
	return root
}
