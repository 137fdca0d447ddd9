package tools

import (
	"strings"

	"github.com/google/uuid"
)

func UUID() string {
	u, _ := uuid.NewUUID()
	return strings.Replace(u.String(), "-", "", 4)
}

// GenerateId 生成带前缀的短id，如 fcgi-1a2b3c4d5e6f
func GenerateId(prefix string) string {
	return prefix + "-" + strings.Replace(uuid.NewString(), "-", "", 4)[:12]
}
