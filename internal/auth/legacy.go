package auth

import "encoding/base64"

// Hide produces the reversible base64 form older account files store.
// It is not a hash; new credentials go through HashPassword.
func Hide(plain string) string {
	return base64.StdEncoding.EncodeToString([]byte(plain))
}

func Reveal(hidden string) (string, bool) {
	b, err := base64.StdEncoding.DecodeString(hidden)
	if err != nil {
		return "", false
	}
	return string(b), true
}
