package utils

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	locMu          sync.RWMutex
	globalLocation = time.UTC
)

// SetLocation 设置全局时区。支持 IANA 名称（Asia/Shanghai）和固定偏移（UTC+8、UTC-5:30）
func SetLocation(name string) error {
	loc, err := parseLocation(name)
	if err != nil {
		return err
	}
	locMu.Lock()
	globalLocation = loc
	locMu.Unlock()
	return nil
}

// Location 当前配置的时区
func Location() *time.Location {
	locMu.RLock()
	defer locMu.RUnlock()
	return globalLocation
}

func parseLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc, nil
	}

	upper := strings.ToUpper(name)
	if !strings.HasPrefix(upper, "UTC") {
		return nil, fmt.Errorf("无法识别的时区: %s", name)
	}
	offset := upper[3:]
	if offset == "" {
		return time.UTC, nil
	}

	sign := 1
	switch offset[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return nil, fmt.Errorf("无法识别的时区偏移: %s", name)
	}

	hm := strings.SplitN(offset[1:], ":", 2)
	hours, err := strconv.Atoi(hm[0])
	if err != nil || hours > 14 {
		return nil, fmt.Errorf("无法识别的时区偏移: %s", name)
	}
	minutes := 0
	if len(hm) == 2 {
		if minutes, err = strconv.Atoi(hm[1]); err != nil || minutes >= 60 {
			return nil, fmt.Errorf("无法识别的时区偏移: %s", name)
		}
	}
	return time.FixedZone(name, sign*(hours*3600+minutes*60)), nil
}

// ToConfiguredTimezone 将时间转换为配置的时区
func ToConfiguredTimezone(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(Location())
}

// ToUTC 将时间转换为UTC时间
func ToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// NowUTC 获取当前UTC时间
func NowUTC() time.Time {
	return time.Now().UTC()
}

// NowConfiguredTimezone 获取当前配置时区的时间
func NowConfiguredTimezone() time.Time {
	return time.Now().In(Location())
}
