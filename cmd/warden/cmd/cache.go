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
package cmd

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wardenvm/warden/cache"
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheCRLCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached attestation artifacts",
}

var cacheCRLCmd = &cobra.Command{
	Use:   "crl",
	Short: "Fetch the AMD certificate revocation lists into the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := cache.NewStore()
		if err != nil {
			return err
		}

		logrus.WithField("dir", store.Dir()).Debug("fetching AMD CRLs")
		if err := store.FetchCRLs(cmd.Context()); err != nil {
			return err
		}

		next, err := store.CheckCRLs()
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"dir":  store.Dir(),
			"next": next.Format(time.RFC3339),
		}).Info("AMD CRL cache updated")
		return nil
	},
}
