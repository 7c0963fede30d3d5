// Package entity 定义领域实体
package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringSlice 字符串切片，以 JSONB 形式持久化
type StringSlice []string

// Value 实现 driver.Valuer 接口
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(s)
}

// Scan 实现 sql.Scanner 接口
func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported scan type %T for StringSlice", value)
	}
	return json.Unmarshal(b, s)
}

// Contains 判断切片是否包含指定元素
func (s StringSlice) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// AttributeMap 任意属性映射，以 JSONB 形式持久化
type AttributeMap map[string]interface{}

// Value 实现 driver.Valuer 接口
func (a AttributeMap) Value() (driver.Value, error) {
	if a == nil {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(a)
}

// Scan 实现 sql.Scanner 接口
func (a *AttributeMap) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported scan type %T for AttributeMap", value)
	}
	return json.Unmarshal(b, a)
}

// FloatMap 浮点权重映射，以 JSONB 形式持久化
type FloatMap map[string]float64

// Value 实现 driver.Valuer 接口
func (m FloatMap) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(map[string]float64{})
	}
	return json.Marshal(m)
}

// Scan 实现 sql.Scanner 接口
func (m *FloatMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported scan type %T for FloatMap", value)
	}
	return json.Unmarshal(b, m)
}

// Clone 复制映射
func (m FloatMap) Clone() FloatMap {
	if m == nil {
		return nil
	}
	out := make(FloatMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
