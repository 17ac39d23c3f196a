package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cachemir/muxcache/pkg/client"
	"github.com/cachemir/muxcache/pkg/protocol"
)

var execCmd = &cobra.Command{
	Use:   "exec [command line]",
	Short: "Run text commands such as \"SET k v 60\" or \"GET k\"",
	Long: `exec runs text commands, one request per connection.

With arguments, the arguments form a single command. Without arguments, one
command per line is read from standard input. Supported verbs:

  CREATE|SET key payload [ttl]
  UPDATE key payload [ttl]
  READ|GET key
  DELETE|DEL key
  CLEAR|FLUSHALL
  STATS
  PING`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return execLine(cmd, strings.Join(args, " "))
		}
		return execStream(cmd, cmd.InOrStdin())
	},
}

func execStream(cmd *cobra.Command, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := execLine(cmd, line); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", line, err)
		}
	}
	return scanner.Err()
}

func execLine(cmd *cobra.Command, line string) error {
	command, err := protocol.ParseTextCommand(line)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	resp, err := client.Do(cmd.Context(), cfg, &protocol.Request{Command: command}, client.WithLogger(logger))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case resp.Value != nil:
		fmt.Fprintln(out, *resp.Value)
	case resp.Message != "":
		fmt.Fprintf(out, "%s: %s\n", resp.Status, resp.Message)
	default:
		fmt.Fprintln(out, resp.Status)
	}
	return nil
}
