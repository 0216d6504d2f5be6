// internal/websocket/utils.go
package websocket

import "encoding/json"

// DecodeData converts a message's generic Data into target using JSON
// marshaling.
func DecodeData(data interface{}, target interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, target)
}
