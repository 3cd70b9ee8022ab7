// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "appling [link]",
		Short: "Launch the application, installing its platform first if needed",
		Long: `appling opens a pear:// or punch:// link, or its own application when
no link is given. When the platform is missing it is installed behind a
splash screen and the launcher restarts itself.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		// The OS may add its own arguments (-psn_... on macOS).
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE:               runLaunch,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the platform root, lock holder and install state",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "appling %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
			if appID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "app id: %s\n", appID)
			}
		},
	}
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// runLaunch is the default command.
func runLaunch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), runtime.GOOS)
	if err != nil {
		fmt.Fprintf(os.Stderr, "appling: %v\n", err)
		return err
	}
	defer a.Close()

	seq, err := a.sequencer()
	if err != nil {
		a.logger.Fatal("launcher misconfigured", "error", err)
		return err
	}

	// The sequencer has already logged any fatal error.
	argv := append([]string{a.ident.ExePath}, args...)
	_, err = seq.Run(cmd.Context(), argv)
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), runtime.GOOS)
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.status(cmd.Context())
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "root:     %s\n", st.Root)
	if st.LockHolder != 0 {
		fmt.Fprintf(out, "lock:     held by pid %d\n", st.LockHolder)
	} else {
		fmt.Fprintf(out, "lock:     free\n")
	}
	if st.PlatformPath == "" {
		fmt.Fprintf(out, "platform: not installed (%v)\n", st.ResolveErr)
	} else {
		fmt.Fprintf(out, "platform: %s\n", st.PlatformPath)
	}
	fmt.Fprintf(out, "ready:    %t\n", st.Ready)
	if st.BootLog != "" {
		fmt.Fprintf(out, "bootlog:  %s\n", st.BootLog)
	}
	return nil
}
