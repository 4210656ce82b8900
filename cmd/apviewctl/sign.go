package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"apview/internal/config"
	"apview/internal/core/signing"
)

var errNoSecret = errors.New("MEDIA_HMAC_SECRET is not set; signatures from a random key are useless")

func loadSigner() (*signing.Signer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.MediaSecret == "" {
		return nil, errNoSecret
	}
	return signing.NewSigner([]byte(cfg.MediaSecret))
}

func newSignCmd() *cobra.Command {
	var proxyPath bool
	cmd := &cobra.Command{
		Use:   "sign URL",
		Short: "Print the media signature for URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := loadSigner()
			if err != nil {
				return err
			}
			if proxyPath {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), signer.ProxyPath(args[0]))
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), signer.Sign(args[0]))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&proxyPath, "path", "p", false, "Print the full /api/media path instead of the bare signature")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify URL SIGNATURE",
		Short: "Check a media signature",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := loadSigner()
			if err != nil {
				return err
			}
			if !signer.Verify(args[0], args[1]) {
				return errors.New("invalid signature")
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
}
