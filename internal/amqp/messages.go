package amqp

import (
	"encoding/json"
	"fmt"

	"fintrack/internal/core"
)

// RoutingKey is "<entity>.<op>", e.g. "transaction.insert".
func RoutingKey(ev core.ChangeEvent) string {
	return ev.Entity + "." + ev.Op
}

func encodeEvent(ev core.ChangeEvent) ([]byte, error) {
	return json.Marshal(ev)
}

func decodeEvent(data []byte) (core.ChangeEvent, error) {
	var ev core.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return core.ChangeEvent{}, err
	}
	if ev.Entity == "" || ev.OwnerID == "" {
		return core.ChangeEvent{}, fmt.Errorf("change event missing entity or owner")
	}
	return ev, nil
}
