// Package main provides the CLI entry point for the skydecoder satellite
// TV decoder.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags.
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "skydecoder",
		Short: "skydecoder - Satellite TV decoder",
		Long: `skydecoder is a satellite TV decoder: it receives encrypted broadcast
frames from a host over a byte-stream link, decrypts them against
time-bounded per-channel subscriptions persisted in flash, and returns
the plaintext frames.

It also ships the authority-side tooling that mints deployment secrets,
provisions decoders and encodes frames and subscriptions.`,
		Version: Version,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "decoder", Title: "Decoder:"})
	rootCmd.AddGroup(&cobra.Group{ID: "deploy", Title: "Deployment:"})
	rootCmd.AddGroup(&cobra.Group{ID: "host", Title: "Host Tools:"})

	run := runCmd()
	run.GroupID = "decoder"
	rootCmd.AddCommand(run)

	initC := initCmd()
	initC.GroupID = "deploy"
	rootCmd.AddCommand(initC)

	provision := provisionCmd()
	provision.GroupID = "deploy"
	rootCmd.AddCommand(provision)

	subscribe := subscribeCmd()
	subscribe.GroupID = "host"
	rootCmd.AddCommand(subscribe)

	decode := decodeCmd()
	decode.GroupID = "host"
	rootCmd.AddCommand(decode)

	list := listCmd()
	list.GroupID = "host"
	rootCmd.AddCommand(list)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
