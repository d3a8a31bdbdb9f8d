package sharetarget

import (
	"net/url"
	"strings"
)

// 共享内容来源平台。
const (
	PlatformYouTube = "youtube"
	PlatformTwitter = "twitter"
	PlatformX       = "x"
	PlatformTikTok  = "tiktok"
	PlatformOther   = "other"
)

var platformHosts = []struct {
	suffix   string
	platform string
}{
	{"youtube.com", PlatformYouTube},
	{"youtu.be", PlatformYouTube},
	{"twitter.com", PlatformTwitter},
	{"x.com", PlatformX},
	{"tiktok.com", PlatformTikTok},
}

// IdentifyPlatform 根据共享 URL 的主机名识别来源平台，无法识别时返回 other。
func IdentifyPlatform(raw string) string {
	host := shareHost(raw)
	if host == "" {
		return PlatformOther
	}
	for _, candidate := range platformHosts {
		if host == candidate.suffix || strings.HasSuffix(host, "."+candidate.suffix) {
			return candidate.platform
		}
	}
	return PlatformOther
}

func shareHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
}
