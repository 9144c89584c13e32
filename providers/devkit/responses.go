package devkit

import (
	"encoding/json"
	"net/url"

	"github.com/goliatone/go-shims/core"
)

// JSONResponse scripts a JSON body; it panics on values that cannot be encoded.
func JSONResponse(status int, payload any) TransportScript {
	body, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return TransportScript{Response: core.TransportResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}}
}

// FormResponse scripts a form encoded body, the shape OAuth1 token endpoints return.
func FormResponse(status int, values url.Values) TransportScript {
	return TransportScript{Response: core.TransportResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:       []byte(values.Encode()),
	}}
}

func ErrorResponse(err error) TransportScript {
	return TransportScript{Err: err}
}
