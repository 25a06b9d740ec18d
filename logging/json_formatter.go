package logging

import (
	"encoding/json"
	"fmt"
)

// JsonFormatter JSON 格式化器（每条日志一行）
type JsonFormatter struct {
	TimestampFormat string
}

// NewJsonFormatter 创建 JSON 格式化器
func NewJsonFormatter() *JsonFormatter {
	return &JsonFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	}
}

// Format 格式化日志
func (f *JsonFormatter) Format(entry *LogEntry) ([]byte, error) {
	data := map[string]any{
		"time":  entry.Time.Format(f.TimestampFormat),
		"level": entry.Level.String(),
		"msg":   entry.Message,
	}
	if entry.Category != "" {
		data["category"] = entry.Category
	}

	if len(entry.Fields) > 0 {
		fields := make(map[string]any, len(entry.Fields))
		for _, field := range entry.Fields {
			switch v := field.Value.(type) {
			case error:
				fields[field.Key] = v.Error()
			case fmt.Stringer:
				fields[field.Key] = v.String()
			default:
				fields[field.Key] = v
			}
		}
		data["fields"] = fields
	}

	buf := formatBuffers.Get()
	// Encode 自带换行
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		formatBuffers.Put(buf)
		return nil, err
	}
	return formatBuffers.Detach(buf), nil
}
