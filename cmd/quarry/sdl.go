package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quarryql/quarry/internal/compiled"
	"github.com/quarryql/quarry/internal/schema"
)

func newSDLCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "sdl <schema.compiled.json>",
		Short: "Print the GraphQL SDL of a compiled artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := compiled.LoadFile(args[0])
			if err != nil {
				return err
			}
			sch, err := schema.BuildFromCompiled(cs)
			if err != nil {
				return err
			}
			sdl := schema.Render(sch)
			if out == "" {
				fmt.Fprint(cmd.OutOrStdout(), sdl)
				return nil
			}
			return os.WriteFile(out, []byte(sdl), 0644)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write SDL to file instead of stdout")
	return cmd
}
