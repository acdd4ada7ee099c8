package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/postalsys/skydecoder/internal/config"
	"github.com/postalsys/skydecoder/internal/deployment"
)

func initCmd() *cobra.Command {
	var (
		secretsPath string
		channels    []uint
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate deployment secrets",
		Long: `Generate a fresh deployment secrets file: the subscribe root key, the
subscription signing key, and root material for every listed channel.
Channel 0 is conventionally the emergency channel; include it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				if _, err := os.Stat(secretsPath); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", secretsPath)
				}
			}

			ids := make([]uint32, len(channels))
			for i, ch := range channels {
				ids[i] = uint32(ch)
			}

			secrets, err := deployment.Generate(ids)
			if err != nil {
				return err
			}
			if err := secrets.Save(secretsPath); err != nil {
				return err
			}

			fmt.Printf("wrote %s with %d channels\n", secretsPath, len(channels))
			return nil
		},
	}

	cmd.Flags().StringVarP(&secretsPath, "secrets", "s", "deployment.secrets.yaml", "secrets file to write")
	cmd.Flags().UintSliceVarP(&channels, "channels", "n", []uint{0, 1, 2, 3, 4}, "channel ids to generate keys for")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing secrets file")
	return cmd
}

func provisionCmd() *cobra.Command {
	var (
		secretsPath      string
		decoderID        uint32
		emergencyChannel uint32
		outPath          string
		flashImage       string
		listen           string
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Derive a decoder configuration from the deployment secrets",
		Long: `Derive the per-decoder key material (Argon2id over the subscribe root
key, salted with the decoder id) and write a ready-to-run decoder
configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secrets, err := deployment.Load(secretsPath)
			if err != nil {
				return err
			}

			params, err := secrets.DecoderParams(decoderID, emergencyChannel)
			if err != nil {
				return err
			}

			cfg := config.Default()
			cfg.Decoder = config.DecoderConfig{
				ID:                    params.DecoderID,
				SubscriptionKey:       hex.EncodeToString(params.SubscriptionKey[:]),
				SubscriptionPublicKey: hex.EncodeToString(params.SubscriptionPublicKey[:]),
				EmergencyChannelID:    params.EmergencyChannelID,
				EmergencyKey:          hex.EncodeToString(params.EmergencyKey[:]),
				EmergencyPublicKey:    hex.EncodeToString(params.EmergencyPublicKey[:]),
			}
			cfg.Flash.Image = flashImage
			cfg.Link.Listen = listen

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, data, 0600); err != nil {
				return err
			}

			fmt.Printf("wrote %s for decoder %d\n", outPath, decoderID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&secretsPath, "secrets", "s", "deployment.secrets.yaml", "secrets file")
	cmd.Flags().Uint32VarP(&decoderID, "decoder-id", "d", 0, "decoder id to provision")
	cmd.Flags().Uint32Var(&emergencyChannel, "emergency-channel", 0, "emergency channel id")
	cmd.Flags().StringVarP(&outPath, "out", "o", "skydecoder.yaml", "configuration file to write")
	cmd.Flags().StringVar(&flashImage, "flash-image", "skydecoder.flash", "flash image path for the decoder")
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:7000", "host link TCP listen address")
	return cmd
}
