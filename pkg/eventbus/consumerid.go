package eventbus

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
)

// deriveConsumerID builds a stable per-process consumer group member id
// from a hash of the hostname, a hash of the binary's install path, and the
// worker's process index within the host. Stability across restarts lets a
// restarted worker resume claiming the pending entries it left behind.
func deriveConsumerID(processIndex int) (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("read hostname: %w", err)
	}
	installPath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("read install path: %w", err)
	}
	hostHash := sha1.Sum([]byte(hostname))
	pathHash := sha1.Sum([]byte(installPath))
	return fmt.Sprintf("%s:%s:%d", hex.EncodeToString(hostHash[:])[:12], hex.EncodeToString(pathHash[:])[:12], processIndex), nil
}
