package admin

import "encoding/json"

func marshalPayload(v map[string]interface{}) ([]byte, error) {
	return json.Marshal(v)
}
