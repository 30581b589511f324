// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
	"github.com/spf13/cobra"

	"github.com/stacklok/inconnu/pkg/broker/keys"
)

// newKeygenCmd creates the keygen command, which prints a signing secret or
// private key for tokens.secret or tokens.key_file.
func newKeygenCmd() *cobra.Command {
	var (
		algorithm string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a token signing secret or key",
		Long: `Generate material for signing tokens. HS256 prints a random secret for
tokens.secret; ES256, ES384, ES512 and EdDSA print a PKCS8 PEM private key for
tokens.key_file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			material, err := generateKeyMaterial(jose.SignatureAlgorithm(algorithm))
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(material)
				return err
			}
			if err := os.WriteFile(output, material, 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", string(jose.HS256), "Signing algorithm (HS256, ES256, ES384, ES512, EdDSA)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func generateKeyMaterial(algorithm jose.SignatureAlgorithm) ([]byte, error) {
	if algorithm == jose.HS256 {
		secret, err := keys.GenerateHMACSecret()
		if err != nil {
			return nil, err
		}
		return []byte(base64.RawURLEncoding.EncodeToString(secret) + "\n"), nil
	}

	key, err := keys.GeneratePrivateKey(algorithm)
	if err != nil {
		return nil, err
	}
	return keys.EncodePrivateKeyPEM(key)
}
