package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"upscaled/internal/inference"
	"upscaled/pkg/types"
)

func newEnhanceCmd(opts *options) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "enhance",
		Short: "Run one invocation payload without starting the server",
		Example: "  upscaled enhance -f request.json\n" +
			"  echo '{\"input_file_path\":\"in.png\",\"output_file_path\":\"out.png\"}' | upscaled enhance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			var req types.InvocationRequest
			if err := json.NewDecoder(in).Decode(&req); err != nil {
				return fmt.Errorf("decode request: %w", err)
			}

			log := newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			svc, err := inference.Build(cfg, log)
			if err != nil {
				return err
			}
			defer svc.Close()
			if err := svc.Warmup(cmd.Context()); err != nil {
				return fmt.Errorf("warm-up failed: %w", err)
			}
			reply, err := svc.Invoke(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(reply.Body); err != nil {
				return err
			}
			if reply.Status != http.StatusOK {
				return fmt.Errorf("invocation failed with status %d", reply.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Request JSON file (default stdin)")
	return cmd
}
