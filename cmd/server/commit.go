// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newCommitCommand(opts *rootOptions) *cobra.Command {
	var (
		url    string
		chatID int64
	)
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Ingest one Instagram or Threads link and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				return errors.New("--url is required")
			}
			ctx := cmd.Context()
			s, err := newState(ctx, opts.config)
			if err != nil {
				return err
			}
			defer s.Close()

			link, err := s.resolver.Resolve(ctx, url)
			if err != nil {
				return err
			}
			link.ChatID = chatID
			report := s.ingest.Ingest(ctx, link)

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if len(report.Errors) > 0 {
				return fmt.Errorf("ingest failed: %s", report.Errors[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "content link to ingest")
	cmd.Flags().Int64Var(&chatID, "chat-id", 0, "chat the places are attributed to")
	return cmd
}
