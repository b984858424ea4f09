package pose

import "strings"

// Reserved bone names of the original model format
const (
	CenterBoneName = "センター"
	KneeBoneName   = "ひざ"
)

var motionIndependentNames = []string{
	"全ての親",
	"両足オフセ",
	"右足オフセ",
	"左足オフセ",
}

func isKneeName(name string) bool {
	return strings.Contains(name, KneeBoneName)
}

func isMotionIndependentName(name string) bool {
	for _, n := range motionIndependentNames {
		if n == name {
			return true
		}
	}
	return false
}
