package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dan-strohschein/qpipe/client"
)

const (
	multiFlag = "multi"
	pipedFlag = "piped"
	watchFlag = "watch"
	fileFlag  = "file"
)

func newExecCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec [command args...]",
		Short: "Queue commands and execute them in one round trip",
		Long: `Queue commands and execute them in one round trip.

With arguments, a single command is run. Otherwise commands are read one per
line from --file, or from stdin. Blank lines and lines starting with '#' are
skipped.`,
		Example: `  qpipe exec PING
  printf 'SET k v\nGET k\n' | qpipe exec --multi
  qpipe exec --multi --watch balance -f transfer.txt`,
		RunE: runExec,
	}

	flags := cmd.Flags()
	flags.Bool(multiFlag, false, "run the commands in a MULTI/EXEC transaction")
	flags.Bool(pipedFlag, false, "defer MULTI/QUEUED acknowledgements until EXEC")
	flags.StringSlice(watchFlag, nil, "keys to WATCH before queuing (requires --multi)")
	flags.StringP(fileFlag, "f", "", "read commands from a file")

	return cmd
}

func runExec(cmd *cobra.Command, args []string) error {
	commands, err := loadCommands(cmd, args)
	if err != nil {
		return err
	}
	if len(commands) == 0 {
		return errors.New("no commands to execute")
	}

	multi := config.GetBool(multiFlag)
	watch := config.GetStringSlice(watchFlag)
	if len(watch) > 0 && !multi {
		return errors.New("--watch requires --multi")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), config.GetDuration(timeoutFlag))
	defer cancel()

	opts := clientOptions()
	opts.Logger = client.NewLogger(opts.LogLevel, cmd.ErrOrStderr())

	c := client.NewClient(opts)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close(context.Background())

	var batch *client.QueuedBatch
	if multi {
		var batchOpts []client.BatchOption
		if config.GetBool(pipedFlag) {
			batchOpts = append(batchOpts, client.WithPiped())
		}
		batch, err = c.Transaction(ctx, batchOpts...)
	} else {
		batch, err = c.Pipeline(ctx)
	}
	if err != nil {
		return err
	}
	defer batch.Close()

	if len(watch) > 0 {
		if err := batch.Watch(ctx, watch...); err != nil {
			return err
		}
	}

	for _, command := range commands {
		if err := batch.Append(ctx, client.Command{Args: command}); err != nil {
			return fmt.Errorf("queue %s: %w", strings.ToUpper(command[0]), err)
		}
	}

	replies, err := batch.Exec(ctx)
	out := cmd.OutOrStdout()
	if errors.Is(err, client.ErrTransactionAborted) {
		printWarning(out, "transaction aborted, no command was applied")
		return err
	}
	if err != nil {
		return errors.New(client.FormatError(err, config.GetBool(debugFlag)))
	}

	fmt.Fprintln(out, replies.String())
	mode := "pipeline"
	if batch.Strategy().Transactional() {
		mode = "transaction"
	}
	printSuccess(out, fmt.Sprintf("%d commands executed (%s)", replies.Len(), mode))
	return nil
}

func loadCommands(cmd *cobra.Command, args []string) ([][]string, error) {
	if len(args) > 0 {
		return [][]string{args}, nil
	}

	var r io.Reader = cmd.InOrStdin()
	if path := config.GetString(fileFlag); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return readCommands(r)
}
