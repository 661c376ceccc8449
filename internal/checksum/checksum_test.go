package checksum

import "testing"

func TestSum_Known(t *testing.T) {
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Sum(nil); got != empty {
		t.Errorf("Sum(nil) = %s", got)
	}
}

func TestJSON_MapOrderIndependent(t *testing.T) {
	a := map[string]any{"url": "https://a.test", "value": 97}
	b := map[string]any{"value": 97, "url": "https://a.test"}
	if JSON(a) != JSON(b) {
		t.Error("equal maps hashed differently")
	}
	if JSON(a) == JSON(map[string]any{"url": "https://b.test", "value": 97}) {
		t.Error("different maps hashed equally")
	}
}
