package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quarryql/quarry/internal/compiler"
	"github.com/quarryql/quarry/internal/config"
	"github.com/quarryql/quarry/internal/ir"
)

func newCompileCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "compile <schema.json> <config.toml>",
		Short: "Compile a schema document into a serving artifact",
		Long:  "Parses and validates the schema document, binds every operation to SQL\nfor the configured dialect, and writes the artifact. All validation\nviolations are reported in one pass.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, args[0], args[1], out)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "schema.compiled.json", "artifact output path")
	return cmd
}

func runCompile(cmd *cobra.Command, schemaPath, configPath, outPath string) error {
	data, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	doc, err := ir.Parse(data)
	if err != nil {
		return err
	}
	if _, err := ir.Validate(doc); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cs, err := compiler.Compile(doc, cfg)
	if err != nil {
		return err
	}
	encoded, err := cs.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, encoded, 0644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (checksum %s)\n", outPath, cs.Checksum())
	return nil
}
