/*
Copyright © 2026 wardenvm

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
//go:build linux && amd64

package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wardenvm/warden/config"
	"github.com/wardenvm/warden/kvm"
	"github.com/wardenvm/warden/vm"
)

// serialPort is the COM1 port the shim writes its output to.
const serialPort = 0x3f8

var (
	configPath string
	runPages   uint64
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to warden.toml")
	runCmd.Flags().Uint64VarP(&runPages, "pages", "p", 0, "Workload memory in 4 KiB pages (overrides config)")
}

var runCmd = &cobra.Command{
	Use:   "run SHIM",
	Short: "Launch a shim inside a new keep and service its exits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()
		if configPath != "" {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
		}
		if runPages != 0 {
			cfg.Keep.Pages = runPages
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		shim, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read shim: %w", err)
		}

		keep, err := vm.New(shim)
		if err != nil {
			return err
		}
		defer keep.Close()

		base, err := keep.AddMemory(cfg.Keep.Pages)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"pages": cfg.Keep.Pages,
			"base":  fmt.Sprintf("%#x", base),
		}).Debug("added workload memory")

		// TODO: forward cfg.Workload args/env through the shared
		// pages once the shim ABI defines their layout.

		thread, err := keep.AddThread()
		if err != nil {
			return err
		}
		defer thread.Close()

		logrus.WithFields(logrus.Fields{
			"entry": fmt.Sprintf("%#x", keep.ShimEntry()),
			"start": fmt.Sprintf("%#x", keep.ShimStart()),
		}).Debug("entering keep")

		return serveExits(thread)
	},
}

// serveExits runs the thread until the guest halts, forwarding its
// serial output to stdout.
func serveExits(thread vm.Thread) error {
	for {
		exit, err := thread.Enter()
		if err != nil {
			return err
		}

		switch exit.Reason {
		case kvm.ExitHLT:
			logrus.Debug("keep halted")
			return nil
		case kvm.ExitIO:
			if exit.IO.Direction == kvm.IODirectionOut && exit.IO.Port == serialPort {
				os.Stdout.Write(exit.IO.Data)
				continue
			}
			logrus.WithFields(logrus.Fields{
				"port":      fmt.Sprintf("%#x", exit.IO.Port),
				"direction": exit.IO.Direction,
			}).Debug("ignoring port access")
		default:
			return fmt.Errorf("unhandled exit: %s", exit.Reason)
		}
	}
}
