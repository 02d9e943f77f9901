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
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Open a browser and sign in to Google Maps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := newSessionState(opts.config)
			fmt.Fprintln(cmd.OutOrStdout(), "Sign in to Google in the browser window. Waiting up to 5 minutes...")
			outcome := s.session.InteractiveLogin(cmd.Context())
			if !outcome.Success() {
				return fmt.Errorf("login failed: %s", outcome.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), outcome.Message)
			return nil
		},
	}
}

func newLogoutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the saved Google sign-in state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := newSessionState(opts.config)
			if s.session.ClearSession() {
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "No saved sign-in state.")
			return nil
		},
	}
}

func newListsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lists",
		Short: "Print the Google Maps saved lists",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := newSessionState(opts.config)
			lists, outcome := s.session.SavedLists(cmd.Context())
			if len(lists) == 0 {
				return fmt.Errorf("no lists: %s", outcome.Message)
			}
			current := s.settings.GoogleMapsList()
			for _, name := range lists {
				marker := " "
				if name == current {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		},
	}
}
