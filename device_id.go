package mqtt5

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

// clientIDPrefix marks identifiers derived by DeviceClientID.
const clientIDPrefix = "m5"

// machineIDFiles are tried in order for a stable host identifier.
var machineIDFiles = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// DeviceClientID derives a client identifier that stays the same across
// restarts on one machine. It hashes the machine id, falling back to the
// hostname; when neither is available the result is random. The result is
// 23 characters from [0-9a-z], which every server must accept.
func DeviceClientID() string {
	return deviceClientID(readMachineID, os.Hostname)
}

func deviceClientID(machineID func() string, hostname func() (string, error)) string {
	seed := machineID()
	if seed == "" {
		if h, err := hostname(); err == nil {
			seed = h
		}
	}

	var id uuid.UUID
	if seed != "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte("mqtt5:"+seed))
	} else {
		id = uuid.New()
	}
	hex := strings.ReplaceAll(id.String(), "-", "")
	return clientIDPrefix + hex[:21]
}

func readMachineID() string {
	for _, path := range machineIDFiles {
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(b)); id != "" {
			return id
		}
	}
	return ""
}
