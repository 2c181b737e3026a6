package config

// LarkConfig holds the app credentials and API host.
type LarkConfig struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
	Domain    string `json:"domain,omitempty"` // "lark" (default/global), "feishu" (China), or custom URL
}

// HasCredentials reports whether both app id and secret are set.
func (lc LarkConfig) HasCredentials() bool {
	return lc.AppID != "" && lc.AppSecret != ""
}
