package transport

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// answerCookieChallenge implements the client side of the
// DBUS_COOKIE_SHA1 SASL mechanism, used by TCP-transported buses that
// have no kernel-verified peer identity. challenge is the
// hex-encoded "context cookie_id server_challenge" triple sent by the
// server in its DATA line.
//
// The response proves the client can read a shared secret ("cookie")
// out of a file under ~/.dbus-keyrings/ that only the local user can
// read, which is the same trust boundary the EXTERNAL mechanism gets
// for free from unix socket peer credentials.
func answerCookieChallenge(hexChallenge string) (string, error) {
	raw, err := hex.DecodeString(hexChallenge)
	if err != nil {
		return "", fmt.Errorf("decoding cookie challenge: %w", err)
	}
	parts := strings.SplitN(string(raw), " ", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed cookie challenge %q", raw)
	}
	context, cookieID, serverChallenge := parts[0], parts[1], parts[2]

	cookie, err := readCookie(context, cookieID)
	if err != nil {
		return "", err
	}

	clientChallenge, err := randomHex(16)
	if err != nil {
		return "", err
	}

	h := sha1.New()
	fmt.Fprintf(h, "%s:%s:%s", serverChallenge, clientChallenge, cookie)
	digest := hex.EncodeToString(h.Sum(nil))

	resp := fmt.Sprintf("%s %s", clientChallenge, digest)
	return hex.EncodeToString([]byte(resp)), nil
}

// readCookie looks up cookieID in the keyring file for context under
// ~/.dbus-keyrings, returning the cookie's secret value.
func readCookie(context, cookieID string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating dbus keyring: %w", err)
	}
	path := filepath.Join(home, ".dbus-keyrings", context)
	bs, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading dbus keyring %s: %w", path, err)
	}
	for _, line := range strings.Split(string(bs), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		if fields[0] == cookieID {
			return fields[2], nil
		}
	}
	return "", fmt.Errorf("cookie %s not found in keyring %s", cookieID, path)
}

func randomHex(n int) (string, error) {
	bs := make([]byte, n)
	if _, err := rand.Read(bs); err != nil {
		return "", err
	}
	return hex.EncodeToString(bs), nil
}
