// Copyright 2019 The SpO2 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package spo2cmd implements the spo2 command line.
package spo2cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/spo2server/spo2"
)

// Main is the entry point of the spo2 program, called by cmd/spo2.
func Main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type runFlags struct {
	listenAddr   string
	wsListenAddr string
	databasePath string
	slackHookURL string
	debug        bool
}

func rootCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "spo2",
		Short: "spo2 keeps a finger on the pulse of your URLs",
		Long: `spo2 probes a set of registered URLs, persists their last known
status, streams state changes to websocket subscribers, and posts batched
alerts to a Slack-compatible webhook.

Flags override the HTTP_LISTEN_ADDR, WS_LISTEN_ADDR, DATABASE_PATH and
SLACK_HOOK_URL environment variables.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags)
		},
	}
	addRunFlags(cmd.Flags(), &flags)
	cmd.AddCommand(versionCommand())
	return cmd
}

func addRunFlags(fs *pflag.FlagSet, flags *runFlags) {
	fs.StringVar(&flags.listenAddr, "listen", "", "control API listen address")
	fs.StringVar(&flags.wsListenAddr, "ws-listen", "", "websocket event feed listen address")
	fs.StringVar(&flags.databasePath, "database", "", "path of the database file")
	fs.StringVar(&flags.slackHookURL, "slack-hook-url", "", "webhook URL for alerts")
	fs.BoolVar(&flags.debug, "debug", false, "enable debug logging")
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(*cobra.Command, []string) {
			fmt.Println(spo2.Version)
		},
	}
}
