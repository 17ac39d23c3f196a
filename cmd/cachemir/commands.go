package main

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var ttl time.Duration

var createCmd = &cobra.Command{
	Use:   "create <key> <payload>",
	Short: "Store a value, replacing any existing one",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, release, err := getClient(cmd.Context())
		if err != nil {
			return err
		}
		defer release()

		if err := c.Create(cmd.Context(), args[0], args[1], ttl); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "OK")
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <key>",
	Short: "Print the value stored under a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, release, err := getClient(cmd.Context())
		if err != nil {
			return err
		}
		defer release()

		value, err := c.Read(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <key> <payload>",
	Short: "Replace the value of an existing key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, release, err := getClient(cmd.Context())
		if err != nil {
			return err
		}
		defer release()

		if err := c.Update(cmd.Context(), args[0], args[1], ttl); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "OK")
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <key>",
	Aliases: []string{"del"},
	Short:   "Remove a key",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, release, err := getClient(cmd.Context())
		if err != nil {
			return err
		}
		defer release()

		if err := c.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "OK")
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, release, err := getClient(cmd.Context())
		if err != nil {
			return err
		}
		defer release()

		if err := c.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "OK")
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print server statistics as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, release, err := getClient(cmd.Context())
		if err != nil {
			return err
		}
		defer release()

		stats, err := c.Stats(cmd.Context())
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the server answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, release, err := getClient(cmd.Context())
		if err != nil {
			return err
		}
		defer release()

		start := time.Now()
		if err := c.Ping(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "PONG (%s)\n", time.Since(start).Round(time.Microsecond))
		return nil
	},
}

func init() {
	createCmd.Flags().DurationVar(&ttl, "ttl", 0, "expire the key after this duration (0 = never)")
	updateCmd.Flags().DurationVar(&ttl, "ttl", 0, "expire the key after this duration (0 = never)")

	rootCmd.AddCommand(createCmd, readCmd, updateCmd, deleteCmd, clearCmd, statsCmd, pingCmd, execCmd)
}
