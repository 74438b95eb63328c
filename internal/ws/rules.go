package ws

import (
	"errors"
	"strings"

	"github.com/sefarad-mx/portal/internal/authsvc"
)

var errDenied = errors.New("missing or insufficient permissions")

// allowRead mirrors the hosted backend's security rules: documents under
// artifacts/{appId}/public/data/** are readable by any signed-in user;
// everything else is closed.
func allowRead(user *authsvc.User, path string) error {
	if user == nil {
		return errDenied
	}
	if !isPublicData(path) {
		return errDenied
	}
	return nil
}

// allowWrite applies the same rule as allowRead. Guest identities never
// reach this point because they hold no ID token.
func allowWrite(user *authsvc.User, path string) error {
	return allowRead(user, path)
}

func isPublicData(path string) bool {
	parts := strings.Split(path, "/")
	if len(parts) < 5 {
		return false
	}
	return parts[0] == "artifacts" && parts[1] != "" && parts[2] == "public" && parts[3] == "data"
}
