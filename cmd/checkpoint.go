/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/epubtran/internal/checkpoint"
)

var checkpointFile string

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or remove the translation progress file",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved translation position",
	RunE: func(cmd *cobra.Command, args []string) error {
		cp := checkpoint.NewStore(checkpointFile).Load()
		if cp.IsZero() {
			fmt.Println("No checkpoint saved.")
			return nil
		}

		fmt.Printf("Document index: %d\n", cp.DocumentIndex)
		fmt.Printf("Fragment index: %d\n", cp.FragmentIndex)
		fmt.Printf("Documents:      %d\n", len(cp.DocumentOrder))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "POS\tDOCUMENT ID\tSTATE")
		for i, id := range cp.DocumentOrder {
			state := "pending"
			switch {
			case i < cp.DocumentIndex:
				state = "done"
			case i == cp.DocumentIndex:
				state = fmt.Sprintf("in progress (fragment %d)", cp.FragmentIndex)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", i, id, state)
		}
		return w.Flush()
	},
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the progress file so the next run starts from scratch",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkpoint.NewStore(checkpointFile).Invalidate(); err != nil {
			return err
		}
		fmt.Println("Checkpoint removed.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointClearCmd)

	checkpointCmd.PersistentFlags().StringVar(&checkpointFile, "file", checkpoint.DefaultPath, "Progress file path")
}
