package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CZERTAINLY/burnin/internal/model"
)

var flagYAML bool

func init() {
	profileCmd.Flags().BoolVar(&flagYAML, "yaml", false, "print YAML instead of JSON")
}

var profileCmd = &cobra.Command{
	Use:   "profile <device>",
	Short: "print identity, class and self-test durations of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, p, err := openDevice(cmd.Context(), config, args[0], model.ModeSimulate)
		if err != nil {
			return err
		}
		return writeProfile(cmd.OutOrStdout(), p, flagYAML)
	},
}

func writeProfile(w io.Writer, p model.Profile, asYAML bool) error {
	if asYAML {
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("encoding profile: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
