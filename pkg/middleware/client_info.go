package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/mssola/user_agent"
)

const ClientInfoField = "client_info"

// ClientInfo 从 User-Agent 解析出的客户端信息
type ClientInfo struct {
	IP       string `json:"ip"`
	Platform string `json:"platform"`
	OS       string `json:"os"`
	Browser  string `json:"browser"`
	Mobile   bool   `json:"mobile"`
	Bot      bool   `json:"bot"`
}

func ParseClientInfo(ip, ua string) ClientInfo {
	parsed := user_agent.New(ua)
	name, version := parsed.Browser()
	browser := name
	if version != "" {
		browser += " " + version
	}
	return ClientInfo{
		IP:       ip,
		Platform: parsed.Platform(),
		OS:       parsed.OS(),
		Browser:  browser,
		Mobile:   parsed.Mobile(),
		Bot:      parsed.Bot(),
	}
}

// ClientInfoMiddleware 解析请求的客户端信息，供登录审计等使用
func ClientInfoMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ClientInfoField, ParseClientInfo(c.ClientIP(), c.GetHeader("User-Agent")))
		c.Next()
	}
}

// GetClientInfo 未经过中间件时现场解析
func GetClientInfo(c *gin.Context) ClientInfo {
	if v, ok := c.Get(ClientInfoField); ok {
		if info, ok := v.(ClientInfo); ok {
			return info
		}
	}
	return ParseClientInfo(c.ClientIP(), c.GetHeader("User-Agent"))
}
