package matcher

import (
	"math"
	"strconv"
	"strings"

	"github.com/narvanalabs/conflux-builder/internal/models"
)

// AssetInfo is the platform information encoded in an artifact name.
type AssetInfo struct {
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	IsPortable bool   `json:"is_portable"`
}

// ParseAssetName extracts the display OS, architecture and portability
// flag from an artifact name. Unknown parts are left empty.
func ParseAssetName(name string) AssetInfo {
	lower := strings.ToLower(name)
	var info AssetInfo

	for _, os := range models.ValidOSes() {
		if containsOS(lower, os) {
			info.OS = os.DisplayName()
			break
		}
	}
	for _, arch := range models.ValidArches() {
		if strings.Contains(lower, string(arch)) {
			info.Arch = string(arch)
			break
		}
	}
	info.IsPortable = strings.Contains(lower, PortableToken)
	return info
}

var byteUnits = []string{"Bytes", "KB", "MB", "GB", "TB", "PB"}

// FormatBytes renders a size with binary units and at most two decimals,
// e.g. 1234 -> "1.21 KB".
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	exp := 0
	for v := n; v >= 1024 && exp < len(byteUnits)-1; v /= 1024 {
		exp++
	}
	value := float64(n) / math.Pow(1024, float64(exp))
	value = math.Round(value*100) / 100
	return strconv.FormatFloat(value, 'f', -1, 64) + " " + byteUnits[exp]
}
