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
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wardenvm/warden/platform"
)

var infoJSON bool

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Emit the probe tree as JSON")
}

// probe mirrors platform.Datum with stable JSON field names.
type probe struct {
	Name string  `json:"name"`
	Pass bool    `json:"pass"`
	Info string  `json:"info,omitempty"`
	Mesg string  `json:"mesg,omitempty"`
	Data []probe `json:"data,omitempty"`
}

func toProbes(data []platform.Datum) []probe {
	out := make([]probe, len(data))
	for i, d := range data {
		out[i] = probe{
			Name: d.Name,
			Pass: d.Pass,
			Info: d.Info,
			Mesg: d.Mesg,
			Data: toProbes(d.Data),
		}
	}
	return out
}

var (
	passMark = color.New(color.FgGreen).Sprint("✔")
	failMark = color.New(color.FgRed).Sprint("✘")
)

func printDatum(d platform.Datum, depth int) {
	mark := passMark
	if !d.Pass {
		mark = failMark
	}
	fmt.Printf("%*s%s %s", depth*2, "", mark, d.Name)
	if d.Info != "" {
		fmt.Printf(": %s", d.Info)
	}
	fmt.Println()
	if !d.Pass && d.Mesg != "" {
		fmt.Printf("%*s  %s\n", depth*2, "", d.Mesg)
	}
	for _, child := range d.Data {
		printDatum(child, depth+1)
	}
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Probe the host for keep launch requirements",
	RunE: func(cmd *cobra.Command, args []string) error {
		data := platform.Scan()

		if infoJSON {
			out, err := json.MarshalIndent(toProbes(data), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		for _, d := range data {
			printDatum(d, 0)
		}
		return nil
	},
}
