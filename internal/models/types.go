package models

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Coordinates 经纬度，顺序为 [经度, 纬度]
type Coordinates [2]float64

func (c Coordinates) Lng() float64 { return c[0] }
func (c Coordinates) Lat() float64 { return c[1] }

func (c Coordinates) Valid() bool {
	return c[0] >= -180 && c[0] <= 180 && c[1] >= -90 && c[1] <= 90
}

// Location 位置快照
type Location struct {
	Coordinates Coordinates `json:"coordinates"`
	Address     string      `json:"address,omitempty"`
	Accuracy    float64     `json:"accuracy,omitempty"`
}

// LocationSample 轨迹点
type LocationSample struct {
	Coordinates Coordinates `json:"coordinates"`
	Address     string      `json:"address,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// PublicIdentity 对圈子成员公开的用户信息
type PublicIdentity struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// NormalizeEmail 去空白并统一小写；Caser 有状态，不能跨 goroutine 共享
func NormalizeEmail(email string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(email))
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
