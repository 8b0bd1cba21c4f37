package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
)

func unmarshalFrame(msg []byte, out any) error {
	return json.Unmarshal(msg, out)
}

// parsePrice decodes the string-encoded decimals both venues use.
func parsePrice(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("non-positive price %v", v)
	}
	return v, nil
}

// parsePriceLoose is for the non-critical candle fields where a bad
// value should not drop the whole tick.
func parsePriceLoose(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
