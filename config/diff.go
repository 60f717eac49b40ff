package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ChangeType 变更类型
type ChangeType string

const (
	ChangeTypeAdded    ChangeType = "added"    // 新增
	ChangeTypeModified ChangeType = "modified" // 修改
	ChangeTypeDeleted  ChangeType = "deleted"  // 删除
)

// ConfigChange 配置变更
type ConfigChange struct {
	Path            string      `json:"path"` // 配置路径（如 "trading.risk"）
	Type            ChangeType  `json:"type"`
	OldValue        interface{} `json:"old_value"`
	NewValue        interface{} `json:"new_value"`
	RequiresRestart bool        `json:"requires_restart"`
}

// ConfigDiff 配置差异
type ConfigDiff struct {
	Changes         []ConfigChange `json:"changes"`
	RequiresRestart bool           `json:"requires_restart"`
}

// hotPaths 运行中可以直接生效的配置项，其余变更都需要重启
var hotPaths = []string{
	"trading.risk",
	"trading.max_loss",
	"trading.min_gain",
	"trading.sell_offset",
	"trading.support_margin",
	"trading.max_drop_fallback",
	"trading.max_wait_ms",
	"fees.maker",
	"fees.taker",
	"system.log_level",
	"notifications.rules",
}

// DiffConfig 对比两个配置，生成差异
func DiffConfig(oldConfig, newConfig *Config) *ConfigDiff {
	diff := &ConfigDiff{Changes: []ConfigChange{}}
	diff.compare(reflect.ValueOf(oldConfig), reflect.ValueOf(newConfig), "")

	sort.Slice(diff.Changes, func(i, j int) bool { return diff.Changes[i].Path < diff.Changes[j].Path })
	for _, change := range diff.Changes {
		if change.RequiresRestart {
			diff.RequiresRestart = true
			break
		}
	}
	return diff
}

// HasPrefix 是否存在指定前缀的变更
func (d *ConfigDiff) HasPrefix(prefix string) bool {
	for _, c := range d.Changes {
		if c.Path == prefix || strings.HasPrefix(c.Path, prefix+".") {
			return true
		}
	}
	return false
}

func (d *ConfigDiff) compare(oldVal, newVal reflect.Value, path string) {
	for oldVal.IsValid() && oldVal.Kind() == reflect.Ptr {
		if oldVal.IsNil() {
			oldVal = reflect.Value{}
			break
		}
		oldVal = oldVal.Elem()
	}
	for newVal.IsValid() && newVal.Kind() == reflect.Ptr {
		if newVal.IsNil() {
			newVal = reflect.Value{}
			break
		}
		newVal = newVal.Elem()
	}

	switch {
	case !oldVal.IsValid() && !newVal.IsValid():
		return
	case !newVal.IsValid():
		d.add(path, ChangeTypeDeleted, oldVal.Interface(), nil)
		return
	case !oldVal.IsValid():
		d.add(path, ChangeTypeAdded, nil, newVal.Interface())
		return
	}

	switch oldVal.Kind() {
	case reflect.Struct:
		typ := oldVal.Type()
		for i := 0; i < typ.NumField(); i++ {
			name := strings.Split(typ.Field(i).Tag.Get("yaml"), ",")[0]
			if name == "" || name == "-" {
				continue
			}
			d.compare(oldVal.Field(i), newVal.Field(i), join(path, name))
		}
	case reflect.Map:
		keys := map[string]reflect.Value{}
		for _, k := range oldVal.MapKeys() {
			keys[fmt.Sprint(k.Interface())] = k
		}
		for _, k := range newVal.MapKeys() {
			keys[fmt.Sprint(k.Interface())] = k
		}
		for name, k := range keys {
			d.compare(oldVal.MapIndex(k), newVal.MapIndex(k), join(path, name))
		}
	default:
		if !reflect.DeepEqual(oldVal.Interface(), newVal.Interface()) {
			d.add(path, ChangeTypeModified, oldVal.Interface(), newVal.Interface())
		}
	}
}

func (d *ConfigDiff) add(path string, changeType ChangeType, oldValue, newValue interface{}) {
	d.Changes = append(d.Changes, ConfigChange{
		Path:            path,
		Type:            changeType,
		OldValue:        oldValue,
		NewValue:        newValue,
		RequiresRestart: requiresRestart(path),
	})
}

func join(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

// requiresRestart 判断配置路径是否需要重启
func requiresRestart(path string) bool {
	for _, hot := range hotPaths {
		if path == hot || strings.HasPrefix(path, hot+".") {
			return false
		}
	}
	return true
}
