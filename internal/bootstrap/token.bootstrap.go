package bootstrap

import (
	"fmt"
	"strings"

	"github.com/krobus00/market-stream/internal/config"
	"github.com/krobus00/market-stream/internal/service/auth"
	"github.com/krobus00/market-stream/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func StartGenerateToken(cmd *cobra.Command, args []string) {
	subject, _ := cmd.Flags().GetString("subject")
	userID, _ := cmd.Flags().GetString("user")
	sessionID, _ := cmd.Flags().GetString("session")
	permissions, _ := cmd.Flags().GetStringSlice("permissions")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	if len(config.Env.Auth.JWTSecret) < auth.MinSecretLength {
		util.ContinueOrFatal(auth.ErrWeakSecret)
	}

	cleaned := make([]string, 0, len(permissions))
	for _, permission := range permissions {
		if permission = strings.TrimSpace(permission); permission != "" {
			cleaned = append(cleaned, permission)
		}
	}

	token, err := auth.NewToken(config.Env.Auth.JWTSecret, auth.TokenRequest{
		Subject:     subject,
		SessionID:   sessionID,
		UserID:      userID,
		Permissions: cleaned,
		TTL:         ttl,
	})
	util.ContinueOrFatal(err)

	logrus.WithFields(logrus.Fields{
		"subject":     subject,
		"permissions": cleaned,
		"ttl":         ttl.String(),
	}).Debug("token generated")

	fmt.Fprintln(cmd.OutOrStdout(), token)
}
