// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// applyCredentials expands the compact "domain:client_id:client_secret"
// form. Explicit fields win over the compact form.
func (c *OktaConfig) applyCredentials() error {
	if c.Credentials == "" {
		return nil
	}
	parts := strings.SplitN(c.Credentials, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("okta credentials must have the form domain:client_id:client_secret")
	}
	c.Domain = firstNonEmpty(c.Domain, parts[0])
	c.ClientID = firstNonEmpty(c.ClientID, parts[1])
	c.ClientSecret = firstNonEmpty(c.ClientSecret, parts[2])
	return nil
}

// applyCredentials expands the compact "client_id:client_secret" form.
// Explicit fields win over the compact form.
func (c *MicrosoftConfig) applyCredentials() error {
	if c.Credentials == "" {
		return nil
	}
	parts := strings.SplitN(c.Credentials, ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return fmt.Errorf("microsoft credentials must have the form client_id:client_secret")
	}
	c.ClientID = firstNonEmpty(c.ClientID, parts[0])
	c.ClientSecret = firstNonEmpty(c.ClientSecret, parts[1])
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
