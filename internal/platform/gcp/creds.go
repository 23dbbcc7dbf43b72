package gcp

import (
	"strings"

	"google.golang.org/api/option"

	"github.com/yungbote/conceptgraph/internal/platform/envutil"
)

// ClientOptionsFromEnv accepts either inline JSON credentials or a path.
func ClientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(envutil.String("GOOGLE_APPLICATION_CREDENTIALS_JSON", ""))
	if creds == "" {
		creds = strings.TrimSpace(envutil.String("GOOGLE_APPLICATION_CREDENTIALS", ""))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}
