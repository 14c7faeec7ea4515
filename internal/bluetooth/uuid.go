package bluetooth

import "strings"

// sigBasePrefix/sigBaseSuffix frame a 16-bit UUID inside the Bluetooth SIG
// base UUID 0000xxxx-0000-1000-8000-00805f9b34fb (normalized form).
const (
	sigBasePrefix = "0000"
	sigBaseSuffix = "00001000800000805f9b34fb"
)

// NormalizeUUID converts a UUID string to the internal comparison format:
// lowercase, no dashes, no 0x prefix. A 128-bit UUID in the SIG base range is
// reduced to its 16-bit short form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	u = strings.TrimPrefix(u, "0x")
	if len(u) == 32 && strings.HasPrefix(u, sigBasePrefix) && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// UUIDEqual reports whether two UUID strings identify the same attribute,
// tolerating mixed short and long SIG-base forms.
func UUIDEqual(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}

// HasService reports whether the advertised service list contains uuid.
func HasService(services []string, uuid string) bool {
	for _, s := range services {
		if UUIDEqual(s, uuid) {
			return true
		}
	}
	return false
}
